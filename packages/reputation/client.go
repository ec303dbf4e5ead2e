// Package reputation looks URLs up in the VirusTotal v3 URL reputation API.
package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"urlscan/packages/cache"
	"urlscan/packages/domain"
	"urlscan/packages/logging"
	"urlscan/packages/metrics"
	"urlscan/packages/verify"
)

const notFoundCode = "NotFoundError"

type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	PerMinute     int
	SubmitUnknown bool
	RetryAttempts int
	RetryDelay    time.Duration
	// Concurrency caps simultaneous lookups inside VerifyMany; 0 means one per URL.
	Concurrency int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Cache
	logger     *slog.Logger
	inflight   singleflight.Group
}

// New builds a client. c may be nil to disable caching.
func New(cfg Config, c cache.Cache, logger *slog.Logger) *Client {
	perMinute := cfg.PerMinute
	if perMinute < 1 {
		perMinute = 4
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		cache:      c,
		logger:     logging.OrDiscard(logger).With("collaborator", string(domain.Reputation)),
	}
}

// URLIdentifier is the service's id for a URL: url-safe base64 without padding.
func URLIdentifier(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

func (c *Client) Name() domain.Collaborator { return domain.Reputation }

func (c *Client) VerifyOne(ctx context.Context, rec *domain.URLRecord) *domain.URLRecord {
	start := time.Now()
	res, cached, err := c.Lookup(ctx, rec.Value())
	if err != nil {
		c.logger.Warn("Reputation lookup failed", "url", rec.Value(), "error", err)
		rec.SetReputation(nil)
		metrics.ObserveCall(string(domain.Reputation), metrics.OutcomeFailure, time.Since(start).Seconds())
		return rec
	}
	rec.SetReputation(res)
	outcome := metrics.OutcomeSuccess
	if cached {
		outcome = metrics.OutcomeCached
	}
	metrics.ObserveCall(string(domain.Reputation), outcome, time.Since(start).Seconds())
	return rec
}

func (c *Client) VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord {
	return verify.Many(ctx, c.logger, c, recs, c.cfg.Concurrency)
}

// Lookup returns the stored report for rawURL. An unknown URL is submitted for
// analysis when SubmitUnknown is set; if the analysis is not finished the
// not-found report is returned so the error code stays visible.
func (c *Client) Lookup(ctx context.Context, rawURL string) (*domain.ReputationResult, bool, error) {
	key := cache.Key(string(domain.Reputation), rawURL)
	if c.cache != nil {
		var cached domain.ReputationResult
		found, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			c.logger.Debug("Reputation cache read failed", "url", rawURL, "error", err)
		} else if found {
			return &cached, true, nil
		}
	}

	// Concurrent lookups of one URL share a single request; quota is scarce.
	v, err, _ := c.inflight.Do(rawURL, func() (any, error) {
		return c.lookupRemote(ctx, rawURL, key)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*domain.ReputationResult), false, nil
}

func (c *Client) lookupRemote(ctx context.Context, rawURL, key string) (*domain.ReputationResult, error) {
	res, err := c.FetchReport(ctx, URLIdentifier(rawURL))
	if err != nil {
		return nil, err
	}

	if res.Error != nil && res.Error.Code == notFoundCode && c.cfg.SubmitUnknown {
		analysis, err := c.submitAndAnalyse(ctx, rawURL)
		if err != nil {
			c.logger.Info("Submission for analysis did not complete", "url", rawURL, "error", err)
		} else if analysis != nil {
			res = analysis
		}
	}

	if c.cache != nil && res.Error == nil {
		if err := c.cache.Set(ctx, key, res); err != nil {
			c.logger.Debug("Reputation cache write failed", "url", rawURL, "error", err)
		}
	}
	return res, nil
}

func (c *Client) submitAndAnalyse(ctx context.Context, rawURL string) (*domain.ReputationResult, error) {
	analysisID, err := c.Submit(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	res, status, err := c.FetchAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if status != "completed" {
		c.logger.Debug("Analysis not finished yet", "url", rawURL, "analysis_id", analysisID, "status", status)
		return nil, nil
	}
	return res, nil
}

// FetchReport fetches the URL report for a URL identifier or analysis-derived id.
func (c *Client) FetchReport(ctx context.Context, id string) (*domain.ReputationResult, error) {
	body, err := c.call(ctx, http.MethodGet, "/urls/"+id, nil)
	if err != nil {
		return nil, err
	}
	var res domain.ReputationResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode url report: %v", verify.ErrMalformedResponse, err)
	}
	if res.Data == nil && res.Error == nil {
		return nil, fmt.Errorf("%w: url report has neither data nor error", verify.ErrMalformedResponse)
	}
	return &res, nil
}

// Submit queues rawURL for a fresh scan and returns the analysis id.
func (c *Client) Submit(ctx context.Context, rawURL string) (string, error) {
	form := url.Values{"url": {rawURL}}
	body, err := c.call(ctx, http.MethodPost, "/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode submission: %v", verify.ErrMalformedResponse, err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("%w: submission returned no analysis id", verify.ErrMalformedResponse)
	}
	return resp.Data.ID, nil
}

// FetchAnalysis returns the analysis counts as a report together with the
// analysis status ("queued", "in-progress" or "completed").
func (c *Client) FetchAnalysis(ctx context.Context, analysisID string) (*domain.ReputationResult, string, error) {
	body, err := c.call(ctx, http.MethodGet, "/analyses/"+analysisID, nil)
	if err != nil {
		return nil, "", err
	}
	var resp struct {
		Data struct {
			ID         string `json:"id"`
			Type       string `json:"type"`
			Attributes struct {
				Status string                `json:"status"`
				Date   int64                 `json:"date"`
				Stats  *domain.AnalysisStats `json:"stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("%w: decode analysis: %v", verify.ErrMalformedResponse, err)
	}
	attrs := resp.Data.Attributes
	if attrs.Stats == nil {
		return nil, attrs.Status, fmt.Errorf("%w: analysis has no stats", verify.ErrMalformedResponse)
	}
	return &domain.ReputationResult{Data: &domain.ReputationData{
		ID:   resp.Data.ID,
		Type: resp.Data.Type,
		Attributes: domain.ReputationAttributes{
			LastAnalysisStats: attrs.Stats,
			LastAnalysisDate:  attrs.Date,
		},
	}}, attrs.Status, nil
}

// call performs one rate-limited request with retries. A 404 carrying an
// error object is returned as a body, not an error.
func (c *Client) call(ctx context.Context, method, path string, payload io.Reader) ([]byte, error) {
	var raw []byte
	if payload != nil {
		b, err := io.ReadAll(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return verify.WithRetry(ctx, c.cfg.RetryAttempts, c.cfg.RetryDelay, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", verify.ErrTransport, err)
		}

		var body io.Reader
		if raw != nil {
			body = strings.NewReader(string(raw))
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", verify.ErrTransport, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-apikey", c.cfg.APIKey)
		if raw != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", verify.ErrTransport, method, path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", verify.ErrTransport, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil
		case resp.StatusCode == http.StatusNotFound && hasErrorObject(respBody):
			return respBody, nil
		default:
			return nil, &verify.StatusError{Code: resp.StatusCode, Body: snippet(respBody)}
		}
	})
}

func hasErrorObject(body []byte) bool {
	var probe struct {
		Error *domain.ReputationError `json:"error"`
	}
	return json.Unmarshal(body, &probe) == nil && probe.Error != nil && probe.Error.Code != ""
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
