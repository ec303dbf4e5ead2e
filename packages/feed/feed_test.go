package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urlscan/packages/loader"
)

func TestFetch_OpenPhishStyle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "urlscan-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, "https://a.test/login\nhttps://b.test/\n\nhttps://a.test/login\n")
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, "urlscan-test", nil)
	urls, err := f.Fetch(context.Background(), Source{Name: "test", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test/login", "https://b.test/"}, urls)
}

func TestFetch_DomainListGetsPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "evil.test\nbad.test")
	}))
	defer srv.Close()

	src := CERT
	src.URL = srv.URL
	urls, err := NewFetcher(time.Second, "", nil).Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://evil.test", "http://bad.test"}, urls)
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second, "", nil).Fetch(context.Background(), Source{Name: "x", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestParse_SkipsComments(t *testing.T) {
	urls, err := Parse(strings.NewReader("# header\n a.test \n"), "http://")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test"}, urls)
}

func TestWriteFile_RoundTripsThroughLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CERT.md")
	require.NoError(t, WriteFile(path, []string{"http://a.test", "http://b.test"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://a.test\nhttp://b.test\n", string(data))

	recs, err := loader.LoadURLFile(path)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
