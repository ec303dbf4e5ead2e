package orchestrator

import "urlscan/packages/domain"

// Stats aggregates a run. Every rate is 0 when nothing was processed.
type Stats struct {
	Processed               int     `json:"processed"`
	Batches                 int     `json:"batches"`
	Liveness                float64 `json:"liveness"`
	ReputationDetectionRate float64 `json:"reputation_detection_rate"`
	ThreatListDetectionRate float64 `json:"threatlist_detection_rate"`
	BrowserBlockRate        float64 `json:"browser_block_rate"`
}

func ComputeStats(records []*domain.URLRecord) Stats {
	var alive, phishing, listed, blocked int
	for _, r := range records {
		if isTrue(r.ProbeIsAlive()) || isTrue(r.BrowserIsAlive()) {
			alive++
		}
		if isTrue(r.IsPhishing()) {
			phishing++
		}
		if onThreatList(r) {
			listed++
		}
		if isTrue(r.Blocked()) {
			blocked++
		}
	}
	n := len(records)
	return Stats{
		Processed:               n,
		Liveness:                ratio(alive, n),
		ReputationDetectionRate: ratio(phishing, n),
		ThreatListDetectionRate: ratio(listed, n),
		BrowserBlockRate:        ratio(blocked, n),
	}
}

func onThreatList(r *domain.URLRecord) bool {
	if _, ok := r.ThreatTypes(); ok {
		return true
	}
	if _, ok := r.Threats(); ok {
		return true
	}
	_, ok := r.PlatformTypes()
	return ok
}

func isTrue(v, ok bool) bool { return ok && v }

func ratio(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}
