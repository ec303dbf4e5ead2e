package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urlscan/packages/domain"
	"urlscan/packages/orchestrator"
)

func TestResultRows(t *testing.T) {
	full := domain.MustURLRecord("http://bad.test")
	full.SetProbe(&domain.ProbeResult{Status: "200"})
	full.SetReputation(&domain.ReputationResult{Data: &domain.ReputationData{
		Attributes: domain.ReputationAttributes{LastAnalysisStats: &domain.AnalysisStats{Malicious: 7}},
	}})
	empty := domain.MustURLRecord("http://empty.test")

	id := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	rows := resultRows(id, []*domain.URLRecord{full, empty})
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row, len(resultColumns))
		assert.Equal(t, id, row[0])
	}

	assert.Equal(t, "http://bad.test", rows[0][1])
	assert.Equal(t, "200", *rows[0][2].(*string))
	assert.True(t, *rows[0][8].(*bool))
	assert.Equal(t, 7, *rows[0][9].(*int))
	assert.NotNil(t, rows[0][10])
	assert.Nil(t, rows[0][11])

	assert.Nil(t, rows[1][2].(*string))
	assert.Nil(t, rows[1][8].(*bool))
	assert.Nil(t, rows[1][10])
}

func TestSaveRun_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	rec := domain.MustURLRecord("http://db.test")
	rec.SetProbe(&domain.ProbeResult{Status: "301"})
	stats := orchestrator.ComputeStats([]*domain.URLRecord{rec})
	stats.Batches = 1

	run := Run{ID: uuid.New(), Source: "test", StartedAt: time.Now(), FinishedAt: time.Now(), Stats: stats}
	require.NoError(t, s.SaveRun(ctx, run, []*domain.URLRecord{rec}))

	got, err := s.runStats(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, stats, got)
}
