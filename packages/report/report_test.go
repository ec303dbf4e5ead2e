package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urlscan/packages/domain"
	"urlscan/packages/orchestrator"
)

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "Report-OPEN-PHISH.json"), DefaultPath(filepath.Join("data", "OPEN-PHISH.md")))
	assert.Equal(t, "Report-urls.json", DefaultPath("urls"))
}

func TestWriteJSON(t *testing.T) {
	alive := domain.MustURLRecord("http://alive.test")
	alive.SetProbe(&domain.ProbeResult{Status: "200"})
	alive.SetBrowser(&domain.BrowserResult{Status: "200", Screenshot: "shots/a.png", Blocked: true})
	empty := domain.MustURLRecord("http://empty.test")

	path := filepath.Join(t.TempDir(), "out", "Report-x.json")
	require.NoError(t, WriteJSON(path, []*domain.URLRecord{alive, empty}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"value":"http://alive.test","probe_status":"200","probe_is_alive":true,
		 "browser_status":"200","browser_is_alive":true,"screenshot":"shots/a.png","webpage-blocked":true},
		{"value":"http://empty.test","probe_status":null,"probe_is_alive":null,
		 "browser_status":null,"browser_is_alive":null,"screenshot":null,"webpage-blocked":null}
	]`, string(data))
}

func TestWriteJSON_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestWriteSummary(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	WriteSummary(&buf, orchestrator.Stats{Processed: 2, Batches: 1, Liveness: 1, ReputationDetectionRate: 0.5})

	out := buf.String()
	assert.Contains(t, out, "Processed 2 URLs in 1 batches")
	assert.Contains(t, out, "100.00%")
	assert.Contains(t, out, " 50.00%")
}

func TestWriteRecord(t *testing.T) {
	color.NoColor = true
	rec := domain.MustURLRecord("http://one.test")
	rec.SetThreatList(&domain.ThreatListResult{Matches: []domain.ThreatMatch{{ThreatType: "MALWARE"}}})
	rec.SetProbe(&domain.ProbeResult{Status: "503"})

	var buf bytes.Buffer
	WriteRecord(&buf, rec)

	out := buf.String()
	assert.Contains(t, out, "http://one.test")
	assert.Contains(t, out, "MALWARE")
	assert.Contains(t, out, "503 alive=no")
	assert.Contains(t, out, "Reputation:")
}
