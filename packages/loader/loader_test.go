package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadURLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# openphish sample\nhttp://a.test\n\n  http://b.test  \nhttp://a.test\r\nhttp://c.test"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, err := LoadURLFile(path)
	require.NoError(t, err)

	var values []string
	for _, r := range recs {
		values = append(values, r.Value())
	}
	assert.Equal(t, []string{"http://a.test", "http://b.test", "http://c.test"}, values)
}

func TestLoadURLFile_Missing(t *testing.T) {
	_, err := LoadURLFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, ErrInputNotFound)
}

func TestParse_Empty(t *testing.T) {
	recs, err := Parse(strings.NewReader("\n# only comments\n"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
