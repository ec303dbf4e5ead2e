// Package report persists scan results and renders run summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"urlscan/packages/domain"
	"urlscan/packages/orchestrator"
)

// DefaultPath is the report location for an input file: Report-<name>.json
// next to the input.
func DefaultPath(input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(input), "Report-"+base+".json")
}

func Records(recs []*domain.URLRecord) []domain.ReportRecord {
	out := make([]domain.ReportRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToReportRecord())
	}
	return out
}

// Encode writes recs as an indented JSON array.
func Encode(w io.Writer, recs []*domain.URLRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(Records(recs)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteJSON writes the report to path, creating parent directories.
func WriteJSON(path string, recs []*domain.URLRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Encode(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSummary prints stats for a person reading a terminal.
func WriteSummary(w io.Writer, stats orchestrator.Stats) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Processed %d URLs in %d batches\n", stats.Processed, stats.Batches)
	fmt.Fprintf(w, "  %-28s %s\n", "Liveness:", rate(stats.Liveness, color.FgGreen))
	fmt.Fprintf(w, "  %-28s %s\n", "Reputation detection rate:", rate(stats.ReputationDetectionRate, color.FgRed))
	fmt.Fprintf(w, "  %-28s %s\n", "Threat-list detection rate:", rate(stats.ThreatListDetectionRate, color.FgRed))
	fmt.Fprintf(w, "  %-28s %s\n", "Browser block rate:", rate(stats.BrowserBlockRate, color.FgYellow))
}

func rate(v float64, highlight color.Attribute) string {
	s := fmt.Sprintf("%6.2f%%", v*100)
	if v == 0 {
		return s
	}
	return color.New(highlight).Sprint(s)
}

// WriteRecord prints one record's verdicts, used by single-URL scans.
func WriteRecord(w io.Writer, rec *domain.URLRecord) {
	color.New(color.Bold).Fprintln(w, rec.Value())
	line := func(label string, value string) { fmt.Fprintf(w, "  %-22s %s\n", label+":", value) }

	if malicious, ok := rec.MaliciousCount(); ok {
		phishing, _ := rec.IsPhishing()
		line("Reputation", fmt.Sprintf("%d malicious, phishing=%s", malicious, verdict(phishing)))
	} else if code, ok := rec.ReputationError(); ok {
		line("Reputation", code)
	} else {
		line("Reputation", "n/a")
	}

	if types, ok := rec.ThreatTypes(); ok {
		line("Threat list", color.RedString(strings.Join(types, ", ")))
	} else if rec.ThreatList() != nil {
		line("Threat list", "no match")
	} else {
		line("Threat list", "n/a")
	}

	if status, ok := rec.ProbeStatus(); ok {
		alive, _ := rec.ProbeIsAlive()
		line("Probe", fmt.Sprintf("%s alive=%s", status, verdict(alive)))
	} else {
		line("Probe", "n/a")
	}

	if status, ok := rec.BrowserStatus(); ok {
		blocked, _ := rec.Blocked()
		line("Browser", fmt.Sprintf("%s blocked=%s", status, verdict(blocked)))
		if shot, ok := rec.Screenshot(); ok && shot != "" {
			line("Screenshot", shot)
		}
	} else {
		line("Browser", "n/a")
	}
}

func verdict(b bool) string {
	if b {
		return color.RedString("yes")
	}
	return color.GreenString("no")
}
