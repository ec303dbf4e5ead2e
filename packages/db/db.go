// Package db persists scan runs and their per-URL verdicts in Postgres.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"urlscan/packages/domain"
	"urlscan/packages/logging"
	"urlscan/packages/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
    id                        UUID PRIMARY KEY,
    source                    TEXT NOT NULL,
    started_at                TIMESTAMPTZ NOT NULL,
    finished_at               TIMESTAMPTZ NOT NULL,
    processed                 INTEGER NOT NULL,
    batches                   INTEGER NOT NULL,
    liveness                  DOUBLE PRECISION NOT NULL,
    reputation_detection_rate DOUBLE PRECISION NOT NULL,
    threatlist_detection_rate DOUBLE PRECISION NOT NULL,
    browser_block_rate        DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS url_results (
    run_id            UUID NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
    url               TEXT NOT NULL,
    probe_status      TEXT,
    probe_is_alive    BOOLEAN,
    browser_status    TEXT,
    browser_is_alive  BOOLEAN,
    screenshot        TEXT,
    webpage_blocked   BOOLEAN,
    is_phishing       BOOLEAN,
    malicious_count   INTEGER,
    reputation        JSONB,
    threat_list       JSONB,
    probe             JSONB,
    browser           JSONB,
    PRIMARY KEY (run_id, url)
);
`

var resultColumns = []string{
	"run_id", "url",
	"probe_status", "probe_is_alive", "browser_status", "browser_is_alive", "screenshot", "webpage_blocked",
	"is_phishing", "malicious_count",
	"reputation", "threat_list", "probe", "browser",
}

// Run is one finished orchestrator run.
type Run struct {
	ID         uuid.UUID
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      orchestrator.Stats
}

type Storage struct {
	DB     *pgxpool.Pool
	logger *slog.Logger
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Storage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return &Storage{DB: pool, logger: logging.OrDiscard(logger)}, nil
}

func (s *Storage) Close() {
	s.DB.Close()
}

func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Storage) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(tx)
}

// SaveRun stores run and every record in one transaction.
func (s *Storage) SaveRun(ctx context.Context, run Run, records []*domain.URLRecord) error {
	runID := pgtype.UUID{Bytes: run.ID, Valid: true}

	err := s.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scan_runs (id, source, started_at, finished_at, processed, batches,
				liveness, reputation_detection_rate, threatlist_detection_rate, browser_block_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			runID, run.Source, run.StartedAt, run.FinishedAt, run.Stats.Processed, run.Stats.Batches,
			run.Stats.Liveness, run.Stats.ReputationDetectionRate, run.Stats.ThreatListDetectionRate, run.Stats.BrowserBlockRate,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		rows := resultRows(runID, records)
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"url_results"}, resultColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to bulk insert url results: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to persist run", "run_id", run.ID, "error", err)
		return err
	}
	s.logger.Info("Persisted run", "run_id", run.ID, "records", len(records))
	return nil
}

// runStats loads the aggregate stats stored for id.
func (s *Storage) runStats(ctx context.Context, id uuid.UUID) (orchestrator.Stats, error) {
	var st orchestrator.Stats
	err := s.DB.QueryRow(ctx, `
		SELECT processed, batches, liveness, reputation_detection_rate, threatlist_detection_rate, browser_block_rate
		FROM scan_runs WHERE id = $1`, pgtype.UUID{Bytes: id, Valid: true},
	).Scan(&st.Processed, &st.Batches, &st.Liveness, &st.ReputationDetectionRate, &st.ThreatListDetectionRate, &st.BrowserBlockRate)
	if err != nil {
		return orchestrator.Stats{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return st, nil
}

func resultRows(runID pgtype.UUID, records []*domain.URLRecord) [][]any {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rep := r.ToReportRecord()
		phishing, hasVerdict := r.IsPhishing()
		malicious, hasCount := r.MaliciousCount()
		row := []any{
			runID, rep.Value,
			rep.ProbeStatus, rep.ProbeIsAlive, rep.BrowserStatus, rep.BrowserIsAlive, rep.Screenshot, rep.WebpageBlocked,
			optional(phishing, hasVerdict), optional(malicious, hasCount),
			jsonOrNil(r.Reputation()), jsonOrNil(r.ThreatList()), jsonOrNil(r.Probe()), jsonOrNil(r.Browser()),
		}
		rows = append(rows, row)
	}
	return rows
}

func optional[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}

// jsonOrNil keeps typed nil pointers from reaching the JSONB codec as "null".
func jsonOrNil[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}
