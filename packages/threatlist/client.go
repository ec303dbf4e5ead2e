// Package threatlist checks URLs against the Safe Browsing v4 threat lists.
package threatlist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"urlscan/packages/cache"
	"urlscan/packages/domain"
	"urlscan/packages/logging"
	"urlscan/packages/metrics"
	"urlscan/packages/verify"
)

var (
	DefaultThreatTypes   = []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION"}
	DefaultPlatformTypes = []string{"ANY_PLATFORM"}
)

type Config struct {
	BaseURL       string
	APIKey        string
	ClientID      string
	ClientVersion string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	ThreatTypes   []string
	PlatformTypes []string
	Concurrency   int
}

type findRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string             `json:"threatTypes"`
		PlatformTypes    []string             `json:"platformTypes"`
		ThreatEntryTypes []string             `json:"threatEntryTypes"`
		ThreatEntries    []domain.ThreatEntry `json:"threatEntries"`
	} `json:"threatInfo"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      cache.Cache
	logger     *slog.Logger
}

func New(cfg Config, c cache.Cache, logger *slog.Logger) *Client {
	if len(cfg.ThreatTypes) == 0 {
		cfg.ThreatTypes = DefaultThreatTypes
	}
	if len(cfg.PlatformTypes) == 0 {
		cfg.PlatformTypes = DefaultPlatformTypes
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		logger:     logging.OrDiscard(logger).With("collaborator", string(domain.ThreatList)),
	}
}

func (c *Client) Name() domain.Collaborator { return domain.ThreatList }

func (c *Client) VerifyOne(ctx context.Context, rec *domain.URLRecord) *domain.URLRecord {
	start := time.Now()
	key := cache.Key(string(domain.ThreatList), rec.Value())
	if c.cache != nil {
		var cached domain.ThreatListResult
		if found, err := c.cache.Get(ctx, key, &cached); err != nil {
			c.logger.Debug("Threat-list cache read failed", "url", rec.Value(), "error", err)
		} else if found {
			rec.SetThreatList(&cached)
			metrics.ObserveCall(string(domain.ThreatList), metrics.OutcomeCached, time.Since(start).Seconds())
			return rec
		}
	}

	res, err := c.CheckURL(ctx, rec.Value())
	if err != nil {
		c.logger.Warn("Threat-list check failed", "url", rec.Value(), "error", err)
		rec.SetThreatList(nil)
		metrics.ObserveCall(string(domain.ThreatList), metrics.OutcomeFailure, time.Since(start).Seconds())
		return rec
	}
	rec.SetThreatList(res)
	metrics.ObserveCall(string(domain.ThreatList), metrics.OutcomeSuccess, time.Since(start).Seconds())

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, res); err != nil {
			c.logger.Debug("Threat-list cache write failed", "url", rec.Value(), "error", err)
		}
	}
	return rec
}

func (c *Client) VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord {
	return verify.Many(ctx, c.logger, c, recs, c.cfg.Concurrency)
}

// CheckURL asks for threat matches on rawURL. A response without matches
// yields a result whose Matches is nil.
func (c *Client) CheckURL(ctx context.Context, rawURL string) (*domain.ThreatListResult, error) {
	var reqBody findRequest
	reqBody.Client.ClientID = c.cfg.ClientID
	reqBody.Client.ClientVersion = c.cfg.ClientVersion
	reqBody.ThreatInfo.ThreatTypes = c.cfg.ThreatTypes
	reqBody.ThreatInfo.PlatformTypes = c.cfg.PlatformTypes
	reqBody.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	reqBody.ThreatInfo.ThreatEntries = []domain.ThreatEntry{{URL: rawURL}}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/threatMatches:find?key=" + url.QueryEscape(c.cfg.APIKey)

	body, err := verify.WithRetry(ctx, c.cfg.RetryAttempts, c.cfg.RetryDelay, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", verify.ErrTransport, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", verify.ErrTransport, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", verify.ErrTransport, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &verify.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	var res domain.ThreatListResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode threat matches: %v", verify.ErrMalformedResponse, err)
	}
	return &res, nil
}
