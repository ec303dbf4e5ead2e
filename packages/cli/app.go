package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"urlscan/packages/browser"
	"urlscan/packages/cache"
	"urlscan/packages/config"
	"urlscan/packages/db"
	"urlscan/packages/logging"
	"urlscan/packages/metrics"
	"urlscan/packages/orchestrator"
	"urlscan/packages/probe"
	"urlscan/packages/reputation"
	"urlscan/packages/threatlist"
)

// app holds what every command shares: configuration, the logger and the
// optional backing services.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	runID   uuid.UUID
	cache   cache.Cache
	storage *db.Storage
	closers []func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Root().PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	runID := uuid.New()
	logger := logging.New(cfg).With("run_id", runID.String(), "command", cmd.Name())
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, runID: runID}

	if cfg.MetricsAddr != "" {
		go metrics.ExposeMetrics(cfg.MetricsAddr)
	}
	return a, nil
}

// connect opens the optional cache and database. Either one failing is
// logged and the scan goes ahead without it.
func (a *app) connect(ctx context.Context) {
	if a.cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB, a.cfg.CacheTTL)
		if err != nil {
			a.logger.Warn("Verdict cache unavailable, continuing without it", "error", err)
		} else {
			a.cache = rc
			a.closers = append(a.closers, func() { _ = rc.Close() })
			a.logger.Info("Verdict cache connected", "addr", a.cfg.RedisAddr)
		}
	}

	if a.cfg.DatabaseURL != "" {
		storage, err := db.New(ctx, a.cfg.DatabaseURL, a.logger)
		if err != nil {
			a.logger.Warn("Database unavailable, results will not be persisted", "error", err)
			return
		}
		if err := storage.EnsureSchema(ctx); err != nil {
			a.logger.Warn("Database schema could not be applied, results will not be persisted", "error", err)
			storage.Close()
			return
		}
		a.storage = storage
		a.closers = append(a.closers, storage.Close)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// collaborators builds every verifier the configuration allows. Services
// without an API key are left out.
func (a *app) collaborators() (orchestrator.Collaborators, error) {
	vp, err := browser.ParseViewport(a.cfg.Resolution)
	if err != nil {
		return orchestrator.Collaborators{}, fmt.Errorf("invalid RESOLUTION: %w", err)
	}

	var c orchestrator.Collaborators
	if a.cfg.VirusTotalAPIKey != "" {
		c.Reputation = reputation.New(reputation.Config{
			BaseURL:       a.cfg.VirusTotalBaseURL,
			APIKey:        a.cfg.VirusTotalAPIKey,
			Timeout:       a.cfg.FetchTimeout,
			PerMinute:     a.cfg.ReputationPerMinute,
			SubmitUnknown: a.cfg.ReputationSubmit,
			RetryAttempts: a.cfg.RetryAttempts,
			RetryDelay:    a.cfg.RetryDelay,
		}, a.cache, a.logger)
	}
	if a.cfg.GoogleAPIKey != "" {
		c.ThreatList = threatlist.New(threatlist.Config{
			BaseURL:       a.cfg.SafeBrowsingBaseURL,
			APIKey:        a.cfg.GoogleAPIKey,
			ClientID:      a.cfg.ClientID,
			ClientVersion: a.cfg.ClientVersion,
			Timeout:       a.cfg.FetchTimeout,
			RetryAttempts: a.cfg.RetryAttempts,
			RetryDelay:    a.cfg.RetryDelay,
		}, a.cache, a.logger)
	}
	c.Probe = probe.New(probe.Config{
		UserAgent: a.cfg.UserAgent,
		Timeout:   a.cfg.FetchTimeout,
	}, a.logger)

	renderer := browser.NewChromeRenderer(a.cfg.Headless, a.logger)
	a.closers = append(a.closers, renderer.Close)
	c.Browser = browser.New(browser.Config{
		UserAgent:      a.cfg.UserAgent,
		Viewport:       vp,
		Timeout:        a.cfg.BrowserTimeout,
		ScreenshotDir:  a.cfg.ScreenshotDir,
		BlockedPhrases: a.cfg.BlockedPhrases,
	}, renderer, a.logger)

	return c, nil
}

func (a *app) orchestrator(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	c, err := a.collaborators()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		BatchSize: a.cfg.BatchSize,
		Cooldown:  a.cfg.Cooldown,
	}, c, a.logger, opts...), nil
}
