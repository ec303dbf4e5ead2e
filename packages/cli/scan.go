package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"urlscan/packages/db"
	"urlscan/packages/domain"
	"urlscan/packages/loader"
	"urlscan/packages/orchestrator"
	"urlscan/packages/report"
)

func newScanSingleCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan-single URL",
		Short: "Scan a single URL and print its verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			a.connect(ctx)
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Scanning url: %s\n", args[0])
			started := time.Now()
			rec, err := orch.ScanOne(ctx, args[0])
			if err != nil {
				return err
			}

			recs := []*domain.URLRecord{rec}
			a.persist(ctx, a.runID, "single:"+args[0], started, orchestrator.ComputeStats(recs), recs)

			if asJSON {
				return report.Encode(cmd.OutOrStdout(), recs)
			}
			report.WriteRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report record as JSON")
	return cmd
}

func newScanFileCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "scan-file FILE",
		Short: "Scan every URL in a newline-delimited file and write a JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			recs, err := loader.LoadURLFile(path)
			if err != nil {
				a.logger.Error("Failed to load seed file", "path", path, "error", err)
				return err
			}
			if output == "" {
				output = report.DefaultPath(path)
			}

			ctx := cmd.Context()
			a.connect(ctx)
			orch, err := a.orchestrator(orchestrator.WithBatchHook(func(n int, batch []*domain.URLRecord) {
				fmt.Fprintf(cmd.ErrOrStderr(), "batch %d done (%d urls)\n", n, len(batch))
			}))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Scanning file: %s (%d urls)\n", path, len(recs))
			started := time.Now()
			orch.Seed(recs...)
			stats, runErr := orch.Run(ctx)

			processed := orch.Processed()
			if err := report.WriteJSON(output, processed); err != nil {
				return err
			}
			a.logger.Info("Report written", "path", output, "records", len(processed))
			a.persist(ctx, a.runID, path, started, stats, processed)

			report.WriteSummary(cmd.OutOrStdout(), stats)
			fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", output)
			return runErr
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Report path (default Report-<file>.json next to FILE)")
	return cmd
}

func (a *app) persist(ctx context.Context, runID uuid.UUID, source string, started time.Time, stats orchestrator.Stats, recs []*domain.URLRecord) {
	if a.storage == nil {
		return
	}
	run := db.Run{
		ID:         runID,
		Source:     source,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Stats:      stats,
	}
	// The scan may have been interrupted; the results gathered so far are still stored.
	if err := a.storage.SaveRun(context.WithoutCancel(ctx), run, recs); err != nil {
		a.logger.Warn("Run not persisted", "error", err)
	}
}
