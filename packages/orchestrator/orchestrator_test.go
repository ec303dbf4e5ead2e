package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urlscan/packages/domain"
	"urlscan/packages/verify"
)

// fakeVerifier applies set to each record unless the URL is listed in fail.
type fakeVerifier struct {
	name  domain.Collaborator
	set   func(rec *domain.URLRecord)
	fail  map[string]bool
	panic map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeVerifier) Name() domain.Collaborator { return f.name }

func (f *fakeVerifier) VerifyOne(_ context.Context, rec *domain.URLRecord) *domain.URLRecord {
	f.mu.Lock()
	f.calls = append(f.calls, rec.Value())
	f.mu.Unlock()
	if f.panic[rec.Value()] {
		panic("fake collaborator blew up")
	}
	if !f.fail[rec.Value()] {
		f.set(rec)
	}
	return rec
}

func (f *fakeVerifier) VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord {
	return verify.Many(ctx, nil, f, recs, 0)
}

func (f *fakeVerifier) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func probeAlive() *fakeVerifier {
	return &fakeVerifier{name: domain.Probe, set: func(rec *domain.URLRecord) {
		rec.SetProbe(&domain.ProbeResult{Status: "200"})
	}}
}

func reputationWith(malicious map[string]int) *fakeVerifier {
	return &fakeVerifier{name: domain.Reputation, set: func(rec *domain.URLRecord) {
		rec.SetReputation(&domain.ReputationResult{Data: &domain.ReputationData{
			Attributes: domain.ReputationAttributes{
				LastAnalysisStats: &domain.AnalysisStats{Malicious: malicious[rec.Value()]},
			},
		}})
	}}
}

func threatListNoMatch() *fakeVerifier {
	return &fakeVerifier{name: domain.ThreatList, set: func(rec *domain.URLRecord) {
		rec.SetThreatList(&domain.ThreatListResult{})
	}}
}

func browserOK() *fakeVerifier {
	return &fakeVerifier{name: domain.Browser, set: func(rec *domain.URLRecord) {
		rec.SetBrowser(&domain.BrowserResult{Status: "200"})
	}}
}

func records(urls ...string) []*domain.URLRecord {
	out := make([]*domain.URLRecord, 0, len(urls))
	for _, u := range urls {
		out = append(out, domain.MustURLRecord(u))
	}
	return out
}

func noSleep(o *Orchestrator) { o.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() } }

func TestRun_GoodAndBadScenario(t *testing.T) {
	o := New(Config{BatchSize: 4}, Collaborators{
		Reputation: reputationWith(map[string]int{"http://bad.test": 5, "http://good.test": 0}),
		ThreatList: threatListNoMatch(),
		Probe:      probeAlive(),
		Browser:    browserOK(),
	}, nil, noSleep)
	o.Seed(records("http://good.test", "http://bad.test")...)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Batches)
	assert.InDelta(t, 1.0, stats.Liveness, 1e-9)
	assert.InDelta(t, 0.5, stats.ReputationDetectionRate, 1e-9)
	assert.Zero(t, stats.ThreatListDetectionRate)
	assert.Zero(t, stats.BrowserBlockRate)
	assert.Zero(t, o.Pending())
}

func TestRun_EmptySeed(t *testing.T) {
	probe := probeAlive()
	o := New(Config{BatchSize: 4, Cooldown: time.Hour}, Collaborators{Probe: probe}, nil)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, probe.called())
}

func TestRun_BatchDraining(t *testing.T) {
	for _, tc := range []struct{ n, size, batches int }{
		{1, 4, 1}, {4, 4, 1}, {5, 4, 2}, {10, 3, 4}, {7, 1, 7},
	} {
		t.Run(fmt.Sprintf("n=%d,m=%d", tc.n, tc.size), func(t *testing.T) {
			urls := make([]string, tc.n)
			for i := range urls {
				urls[i] = fmt.Sprintf("http://u%02d.test", i)
			}

			var seen []string
			var sizes []int
			probe := probeAlive()
			o := New(Config{BatchSize: tc.size}, Collaborators{Probe: probe}, nil, noSleep,
				WithBatchHook(func(_ int, batch []*domain.URLRecord) {
					sizes = append(sizes, len(batch))
					for _, r := range batch {
						seen = append(seen, r.Value())
					}
				}))
			o.Seed(records(urls...)...)

			stats, err := o.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.batches, stats.Batches)
			assert.Len(t, sizes, tc.batches)
			for _, s := range sizes {
				assert.LessOrEqual(t, s, tc.size)
			}
			assert.ElementsMatch(t, urls, seen)
			assert.ElementsMatch(t, urls, probe.called())
			assert.Len(t, o.Processed(), tc.n)
		})
	}
}

func TestRun_SeedDeduplicates(t *testing.T) {
	probe := probeAlive()
	o := New(Config{BatchSize: 10}, Collaborators{Probe: probe}, nil, noSleep)
	added := o.Seed(records("http://a.test", "http://a.test", "http://b.test")...)
	assert.Equal(t, 2, added)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://a.test", "http://b.test"}, probe.called())

	assert.Zero(t, o.Seed(domain.MustURLRecord("http://a.test")))
}

func TestRun_PartialFailureIsIsolated(t *testing.T) {
	probe := probeAlive()
	probe.fail = map[string]bool{"http://b.test": true}
	rep := reputationWith(nil)
	rep.panic = map[string]bool{"http://c.test": true}
	tl := threatListNoMatch()
	br := browserOK()

	o := New(Config{BatchSize: 3}, Collaborators{Reputation: rep, ThreatList: tl, Probe: probe, Browser: br}, nil, noSleep)
	o.Seed(records("http://a.test", "http://b.test", "http://c.test")...)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Processed)

	for _, r := range o.Processed() {
		assert.NotNil(t, r.ThreatList(), r.Value())
		assert.NotNil(t, r.Browser(), r.Value())
		if r.Value() == "http://b.test" {
			assert.Nil(t, r.Probe())
		} else {
			assert.NotNil(t, r.Probe(), r.Value())
		}
		if r.Value() == "http://c.test" {
			assert.Nil(t, r.Reputation())
		} else {
			assert.NotNil(t, r.Reputation(), r.Value())
		}
	}
	// b is still alive through the browser.
	assert.InDelta(t, 1.0, stats.Liveness, 1e-9)
}

func TestRun_CooldownOnlyBetweenBatches(t *testing.T) {
	var slept []time.Duration
	o := New(Config{BatchSize: 2, Cooldown: 42 * time.Second}, Collaborators{Probe: probeAlive()}, nil)
	o.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	o.Seed(records("http://a.test", "http://b.test", "http://c.test", "http://d.test", "http://e.test")...)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, []time.Duration{42 * time.Second, 42 * time.Second}, slept)
}

func TestRun_CancelledDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(Config{BatchSize: 1, Cooldown: time.Hour}, Collaborators{Probe: probeAlive()}, nil,
		WithBatchHook(func(int, []*domain.URLRecord) { cancel() }))
	o.Seed(records("http://a.test", "http://b.test")...)

	stats, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 1, o.Pending())
}

func TestRun_IsIdempotent(t *testing.T) {
	collabs := Collaborators{
		Reputation: reputationWith(map[string]int{"http://x.test": 9}),
		ThreatList: threatListNoMatch(),
		Probe:      probeAlive(),
		Browser:    browserOK(),
	}
	seed := []string{"http://x.test", "http://y.test", "http://z.test"}

	run := func() Stats {
		o := New(Config{BatchSize: 2}, collabs, nil, noSleep)
		o.Seed(records(seed...)...)
		stats, err := o.Run(context.Background())
		require.NoError(t, err)
		return stats
	}
	assert.Equal(t, run(), run())

	o := New(Config{BatchSize: 2}, collabs, nil, noSleep)
	o.Seed(records(seed...)...)
	first, err := o.Run(context.Background())
	require.NoError(t, err)
	o.Reset()
	o.Seed(records(seed...)...)
	second, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScanOne(t *testing.T) {
	probe := probeAlive()
	o := New(Config{BatchSize: 4}, Collaborators{
		Reputation: reputationWith(map[string]int{"http://one.test": 4}),
		ThreatList: threatListNoMatch(),
		Probe:      probe,
		Browser:    browserOK(),
	}, nil)

	rec, err := o.ScanOne(context.Background(), "http://one.test")
	require.NoError(t, err)
	phishing, ok := rec.IsPhishing()
	require.True(t, ok)
	assert.True(t, phishing)
	alive, _ := rec.ProbeIsAlive()
	assert.True(t, alive)
	assert.Empty(t, o.Processed())

	_, err = o.ScanOne(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrEmptyURL)
}

func TestNew_SkipsMissingCollaborators(t *testing.T) {
	o := New(Config{BatchSize: 1}, Collaborators{Probe: probeAlive()}, nil)
	assert.Len(t, o.verifiers, 1)
}

// barrierVerifier holds every call until all expected calls have started.
type barrierVerifier struct {
	name     domain.Collaborator
	started  *sync.WaitGroup
	release  <-chan struct{}
	timedOut *atomic.Int32
}

func (b *barrierVerifier) Name() domain.Collaborator { return b.name }

func (b *barrierVerifier) VerifyOne(_ context.Context, rec *domain.URLRecord) *domain.URLRecord {
	b.started.Done()
	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
		b.timedOut.Add(1)
	}
	return rec
}

func (b *barrierVerifier) VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord {
	return verify.Many(ctx, nil, b, recs, 0)
}

func barrierCollaborators(calls int) (Collaborators, *atomic.Int32) {
	var started sync.WaitGroup
	started.Add(calls)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()
	timedOut := &atomic.Int32{}
	mk := func(name domain.Collaborator) *barrierVerifier {
		return &barrierVerifier{name: name, started: &started, release: release, timedOut: timedOut}
	}
	return Collaborators{
		Reputation: mk(domain.Reputation),
		ThreatList: mk(domain.ThreatList),
		Probe:      mk(domain.Probe),
		Browser:    mk(domain.Browser),
	}, timedOut
}

func TestRun_CollaboratorsAndRecordsRunConcurrently(t *testing.T) {
	urls := records("http://a.test", "http://b.test", "http://c.test")
	c, timedOut := barrierCollaborators(4 * len(urls))
	o := New(Config{BatchSize: len(urls)}, c, nil, noSleep)
	o.Seed(urls...)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Batches)
	assert.Zero(t, timedOut.Load(), "calls waited for each other instead of starting together")
}

func TestScanOne_CollaboratorsRunConcurrently(t *testing.T) {
	c, timedOut := barrierCollaborators(4)
	o := New(Config{BatchSize: 1}, c, nil)

	_, err := o.ScanOne(context.Background(), "http://one.test")
	require.NoError(t, err)
	assert.Zero(t, timedOut.Load())
}
