// Package orchestrator drives URL records through every verification
// collaborator in bounded batches and aggregates the outcome.
//
// The pending and processed sets are owned by the Run loop. Seed, Run,
// Reset and Processed must not be called concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"urlscan/packages/domain"
	"urlscan/packages/logging"
	"urlscan/packages/metrics"
	"urlscan/packages/verify"
)

type Config struct {
	BatchSize int
	Cooldown  time.Duration
}

// Collaborators are the verifiers a batch is sent to. Nil entries are skipped.
type Collaborators struct {
	Reputation verify.Verifier
	ThreatList verify.Verifier
	Probe      verify.Verifier
	Browser    verify.Verifier
}

type BatchHook func(n int, batch []*domain.URLRecord)

type Option func(*Orchestrator)

// WithBatchHook registers fn to be called after each batch has joined.
func WithBatchHook(fn BatchHook) Option {
	return func(o *Orchestrator) { o.onBatch = fn }
}

type Orchestrator struct {
	cfg       Config
	verifiers []verify.Verifier
	logger    *slog.Logger
	pending   *domain.RecordSet
	processed *domain.RecordSet
	onBatch   BatchHook
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, c Collaborators, logger *slog.Logger, opts ...Option) *Orchestrator {
	logger = logging.OrDiscard(logger)
	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		pending:   domain.NewRecordSet(),
		processed: domain.NewRecordSet(),
		sleep:     sleepCtx,
	}
	for _, v := range []struct {
		name domain.Collaborator
		v    verify.Verifier
	}{
		{domain.Reputation, c.Reputation},
		{domain.ThreatList, c.ThreatList},
		{domain.Probe, c.Probe},
		{domain.Browser, c.Browser},
	} {
		if v.v == nil {
			logger.Warn("Collaborator not configured, its results will stay empty", "collaborator", string(v.name))
			continue
		}
		o.verifiers = append(o.verifiers, v.v)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Seed adds records to the pending set and returns how many were new.
// Records already processed in this run are ignored.
func (o *Orchestrator) Seed(records ...*domain.URLRecord) int {
	added := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		if o.processed.Contains(r) {
			o.logger.Debug("URL already processed, not queued again", "url", r.Value())
			continue
		}
		if o.pending.Add(r) {
			added++
		}
	}
	metrics.PendingURLs.Set(float64(o.pending.Len()))
	return added
}

func (o *Orchestrator) Pending() int { return o.pending.Len() }

// Processed returns the processed records ordered by URL.
func (o *Orchestrator) Processed() []*domain.URLRecord { return o.processed.Records() }

// Reset forgets every pending and processed record.
func (o *Orchestrator) Reset() {
	o.pending = domain.NewRecordSet()
	o.processed = domain.NewRecordSet()
	metrics.PendingURLs.Set(0)
}

// Run drains the pending set batch by batch and returns statistics over the
// processed set. A cancelled ctx stops the loop before the next batch; the
// stats returned alongside ctx's error cover what was processed so far.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	runStart := time.Now()
	batches := 0
	o.logger.Info("Verification run starting", "pending", o.pending.Len(), "batch_size", o.cfg.BatchSize, "cooldown", o.cfg.Cooldown)

	for o.pending.Len() > 0 {
		if batches > 0 {
			o.logger.Debug("Cooling down before next batch", "cooldown", o.cfg.Cooldown)
			if err := o.sleep(ctx, o.cfg.Cooldown); err != nil {
				return o.finish(batches, runStart), fmt.Errorf("run interrupted after %d batches: %w", batches, err)
			}
		} else if err := ctx.Err(); err != nil {
			return o.finish(batches, runStart), fmt.Errorf("run interrupted before first batch: %w", err)
		}

		size := o.cfg.BatchSize
		if size <= 0 {
			size = o.pending.Len()
		}
		batch := o.pending.Take(size)
		for _, r := range batch {
			o.pending.Remove(r)
		}
		metrics.PendingURLs.Set(float64(o.pending.Len()))

		batches++
		o.dispatch(ctx, batches, batch)

		for _, r := range batch {
			o.processed.Add(r)
		}
		metrics.URLsProcessed.Add(float64(len(batch)))
		if o.onBatch != nil {
			o.onBatch(batches, batch)
		}
	}

	return o.finish(batches, runStart), nil
}

// dispatch sends one batch to every collaborator at once and waits for all
// of them.
func (o *Orchestrator) dispatch(ctx context.Context, n int, batch []*domain.URLRecord) {
	o.logger.Info("Dispatching batch", "batch", n, "count", len(batch), "collaborators", len(o.verifiers))
	start := time.Now()

	verify.FanOut(ctx, o.logger, o.verifiers, 0, func(ctx context.Context, v verify.Verifier) verify.Verifier {
		v.VerifyMany(ctx, batch)
		return v
	})

	elapsed := time.Since(start)
	metrics.BatchDuration.Observe(elapsed.Seconds())
	o.logger.Info("Finished processing batch", "batch", n, "count", len(batch), "duration", elapsed)
}

func (o *Orchestrator) finish(batches int, start time.Time) Stats {
	stats := ComputeStats(o.processed.Records())
	stats.Batches = batches
	o.logger.Info("Verification run finished",
		"batches", batches,
		"processed", stats.Processed,
		"liveness", stats.Liveness,
		"reputation_detection_rate", stats.ReputationDetectionRate,
		"threatlist_detection_rate", stats.ThreatListDetectionRate,
		"browser_block_rate", stats.BrowserBlockRate,
		"duration", time.Since(start),
	)
	return stats
}

// ScanOne verifies a single URL with every collaborator concurrently. The
// pending and processed sets are not touched.
func (o *Orchestrator) ScanOne(ctx context.Context, rawURL string) (*domain.URLRecord, error) {
	rec, err := domain.NewURLRecord(rawURL)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Scanning single URL", "url", rawURL)
	verify.FanOut(ctx, o.logger, o.verifiers, 0, func(ctx context.Context, v verify.Verifier) verify.Verifier {
		v.VerifyOne(ctx, rec)
		return v
	})
	return rec, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
