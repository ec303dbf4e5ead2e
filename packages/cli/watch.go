package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"urlscan/packages/domain"
	"urlscan/packages/feed"
	"urlscan/packages/orchestrator"
	"urlscan/packages/report"
)

func newWatchCmd() *cobra.Command {
	var (
		feedName  string
		sourceURL string
		reportDir string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically download a feed and scan the URLs not seen before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := feedByName(feedName)
			if err != nil {
				return err
			}
			if sourceURL != "" {
				src.URL = sourceURL
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			a.connect(ctx)

			w := &watcher{
				app:       a,
				src:       src,
				fetcher:   feed.NewFetcher(a.cfg.FetchTimeout*3, a.cfg.UserAgent, a.logger),
				reportDir: reportDir,
			}
			orch, err := a.orchestrator(orchestrator.WithBatchHook(w.collect))
			if err != nil {
				return err
			}
			w.orch = orch

			a.logger.Info("--- Starting feed watcher ---", "feed", src.Name, "interval", a.cfg.WatchInterval)
			return w.loop(ctx, a.cfg.WatchInterval)
		},
	}
	cmd.Flags().StringVar(&feedName, "feed", feed.OpenPhish.Name, "Feed to watch: openphish|cert")
	cmd.Flags().StringVar(&sourceURL, "url", "", "Download from this URL instead of the public feed")
	cmd.Flags().StringVar(&reportDir, "report-dir", "reports", "Directory for per-cycle reports")
	return cmd
}

func feedByName(name string) (feed.Source, error) {
	switch name {
	case feed.OpenPhish.Name:
		return feed.OpenPhish, nil
	case feed.CERT.Name:
		return feed.CERT, nil
	default:
		return feed.Source{}, fmt.Errorf("unknown feed %q", name)
	}
}

type watcher struct {
	app       *app
	src       feed.Source
	fetcher   *feed.Fetcher
	orch      *orchestrator.Orchestrator
	reportDir string

	mu    sync.Mutex
	cycle []*domain.URLRecord
}

func (w *watcher) collect(_ int, batch []*domain.URLRecord) {
	w.mu.Lock()
	w.cycle = append(w.cycle, batch...)
	w.mu.Unlock()
}

func (w *watcher) loop(ctx context.Context, interval time.Duration) error {
	w.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.app.logger.Info("Shutdown signal received. Exiting...")
			return nil
		case <-ticker.C:
			w.app.logger.Debug("Watch cycle starting")
			w.runCycle(ctx)
		}
	}
}

// runCycle scans whatever the feed lists that earlier cycles have not seen.
func (w *watcher) runCycle(ctx context.Context) {
	urls, err := w.fetcher.Fetch(ctx, w.src)
	if err != nil {
		w.app.logger.Error("Feed download failed", "feed", w.src.Name, "error", err)
		return
	}
	recs := make([]*domain.URLRecord, 0, len(urls))
	for _, u := range urls {
		if rec, err := domain.NewURLRecord(u); err == nil {
			recs = append(recs, rec)
		}
	}
	added := w.orch.Seed(recs...)
	if added == 0 {
		w.app.logger.Info("No new URLs in feed", "feed", w.src.Name)
		return
	}

	runID := uuid.New()
	started := time.Now()
	w.mu.Lock()
	w.cycle = nil
	w.mu.Unlock()

	runStats, err := w.orch.Run(ctx)
	if err != nil {
		w.app.logger.Warn("Watch cycle interrupted", "run_id", runID, "error", err)
	}

	w.mu.Lock()
	scanned := w.cycle
	w.mu.Unlock()
	// Run reports over everything processed so far; the cycle only covers this download.
	stats := orchestrator.ComputeStats(scanned)
	stats.Batches = runStats.Batches

	path := filepath.Join(w.reportDir, fmt.Sprintf("Report-%s-%s.json", w.src.Name, started.UTC().Format("20060102T150405Z")))
	if err := report.WriteJSON(path, scanned); err != nil {
		w.app.logger.Error("Failed to write cycle report", "path", path, "error", err)
	} else {
		w.app.logger.Info("Cycle report written", "path", path, "records", len(scanned), "run_id", runID)
	}
	w.app.persist(ctx, runID, "watch:"+w.src.Name, started, stats, scanned)
}
