package domain

import (
	"errors"
	"strings"
	"sync"
)

var ErrEmptyURL = errors.New("url must not be empty")

// URLRecord holds one URL under verification and the raw result of every
// collaborator that has run against it. Each result field is written by exactly
// one collaborator; the mutex makes those writes visible to readers on other
// goroutines.
type URLRecord struct {
	value string

	mu         sync.RWMutex
	reputation *ReputationResult
	threatList *ThreatListResult
	probe      *ProbeResult
	browser    *BrowserResult
}

func NewURLRecord(value string) (*URLRecord, error) {
	if value == "" {
		return nil, ErrEmptyURL
	}
	return &URLRecord{value: value}, nil
}

// MustURLRecord is NewURLRecord for literals known to be valid.
func MustURLRecord(value string) *URLRecord {
	r, err := NewURLRecord(value)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *URLRecord) Value() string  { return r.value }
func (r *URLRecord) Key() string    { return r.value }
func (r *URLRecord) String() string { return r.value }

// Equal reports whether both records identify the same URL. Results are ignored.
func (r *URLRecord) Equal(other *URLRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.value == other.value
}

func (r *URLRecord) SetReputation(res *ReputationResult) {
	r.mu.Lock()
	r.reputation = res
	r.mu.Unlock()
}

func (r *URLRecord) SetThreatList(res *ThreatListResult) {
	r.mu.Lock()
	r.threatList = res
	r.mu.Unlock()
}

func (r *URLRecord) SetProbe(res *ProbeResult) {
	r.mu.Lock()
	r.probe = res
	r.mu.Unlock()
}

func (r *URLRecord) SetBrowser(res *BrowserResult) {
	r.mu.Lock()
	r.browser = res
	r.mu.Unlock()
}

func (r *URLRecord) Reputation() *ReputationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reputation
}

func (r *URLRecord) ThreatList() *ThreatListResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threatList
}

func (r *URLRecord) Probe() *ProbeResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.probe
}

func (r *URLRecord) Browser() *BrowserResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.browser
}

// mergeFrom copies results present on other into fields that are still absent here.
func (r *URLRecord) mergeFrom(other *URLRecord) {
	if other == nil || other == r {
		return
	}
	rep, tl, pr, br := other.Reputation(), other.ThreatList(), other.Probe(), other.Browser()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reputation == nil {
		r.reputation = rep
	}
	if r.threatList == nil {
		r.threatList = tl
	}
	if r.probe == nil {
		r.probe = pr
	}
	if r.browser == nil {
		r.browser = br
	}
}

func (r *URLRecord) analysisStats() *AnalysisStats {
	rep := r.Reputation()
	if rep == nil || rep.Data == nil {
		return nil
	}
	return rep.Data.Attributes.LastAnalysisStats
}

func (r *URLRecord) MaliciousCount() (int, bool) {
	stats := r.analysisStats()
	if stats == nil {
		return 0, false
	}
	return stats.Malicious, true
}

func (r *URLRecord) HarmlessCount() (int, bool) {
	stats := r.analysisStats()
	if stats == nil {
		return 0, false
	}
	return stats.Harmless, true
}

func (r *URLRecord) SuspiciousCount() (int, bool) {
	stats := r.analysisStats()
	if stats == nil {
		return 0, false
	}
	return stats.Suspicious, true
}

func (r *URLRecord) UndetectedCount() (int, bool) {
	stats := r.analysisStats()
	if stats == nil {
		return 0, false
	}
	return stats.Undetected, true
}

func (r *URLRecord) ReputationError() (string, bool) {
	rep := r.Reputation()
	if rep == nil || rep.Error == nil {
		return "", false
	}
	return rep.Error.Code, true
}

// IsPhishing is true when more than PhishingThreshold engines flag the URL as malicious.
func (r *URLRecord) IsPhishing() (bool, bool) {
	malicious, ok := r.MaliciousCount()
	if !ok {
		return false, false
	}
	return malicious > PhishingThreshold, true
}

func (r *URLRecord) matches() ([]ThreatMatch, bool) {
	tl := r.ThreatList()
	if tl == nil || tl.Matches == nil {
		return nil, false
	}
	return tl.Matches, true
}

func (r *URLRecord) ThreatTypes() ([]string, bool) {
	matches, ok := r.matches()
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.ThreatType)
	}
	return out, true
}

func (r *URLRecord) PlatformTypes() ([]string, bool) {
	matches, ok := r.matches()
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.PlatformType)
	}
	return out, true
}

func (r *URLRecord) Threats() ([]ThreatEntry, bool) {
	matches, ok := r.matches()
	if !ok {
		return nil, false
	}
	out := make([]ThreatEntry, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Threat)
	}
	return out, true
}

func (r *URLRecord) ProbeStatus() (string, bool) {
	p := r.Probe()
	if p == nil {
		return "", false
	}
	return p.Status, true
}

// ProbeIsAlive is true when the probe saw a 2xx or 3xx status.
func (r *URLRecord) ProbeIsAlive() (bool, bool) {
	status, ok := r.ProbeStatus()
	if !ok {
		return false, false
	}
	return isAliveStatus(status), true
}

func (r *URLRecord) BrowserStatus() (string, bool) {
	b := r.Browser()
	if b == nil {
		return "", false
	}
	return b.Status, true
}

func (r *URLRecord) BrowserIsAlive() (bool, bool) {
	status, ok := r.BrowserStatus()
	if !ok {
		return false, false
	}
	return isAliveStatus(status), true
}

func (r *URLRecord) Screenshot() (string, bool) {
	b := r.Browser()
	if b == nil {
		return "", false
	}
	return b.Screenshot, true
}

func (r *URLRecord) Blocked() (bool, bool) {
	b := r.Browser()
	if b == nil {
		return false, false
	}
	return b.Blocked, true
}

func (r *URLRecord) ToReportRecord() ReportRecord {
	rec := ReportRecord{Value: r.value}
	if s, ok := r.ProbeStatus(); ok {
		rec.ProbeStatus = &s
	}
	if alive, ok := r.ProbeIsAlive(); ok {
		rec.ProbeIsAlive = &alive
	}
	if s, ok := r.BrowserStatus(); ok {
		rec.BrowserStatus = &s
	}
	if alive, ok := r.BrowserIsAlive(); ok {
		rec.BrowserIsAlive = &alive
	}
	if shot, ok := r.Screenshot(); ok {
		rec.Screenshot = &shot
	}
	if blocked, ok := r.Blocked(); ok {
		rec.WebpageBlocked = &blocked
	}
	return rec
}

func isAliveStatus(status string) bool {
	return strings.HasPrefix(status, "2") || strings.HasPrefix(status, "3")
}
