package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "urlscan:reputation:http://a.test", Key("reputation", "http://a.test"))
}

func TestMemory_RoundTrip(t *testing.T) {
	type verdict struct {
		Malicious int `json:"malicious"`
	}
	ctx := context.Background()
	m := NewMemory()

	var got verdict
	found, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "k", verdict{Malicious: 7}))
	found, err = m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got.Malicious)
}
