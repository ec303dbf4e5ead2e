// Package probe checks whether a URL answers over plain HTTP.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"

	"urlscan/packages/domain"
	"urlscan/packages/logging"
	"urlscan/packages/metrics"
	"urlscan/packages/verify"
)

const maxBodySize = 5 << 20

type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
}

type Prober struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Prober {
	return &Prober{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrDiscard(logger).With("collaborator", string(domain.Probe)),
		now:    time.Now,
	}
}

func (p *Prober) Name() domain.Collaborator { return domain.Probe }

func (p *Prober) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", p.cfg.UserAgent)
	return h
}

func (p *Prober) VerifyOne(ctx context.Context, rec *domain.URLRecord) *domain.URLRecord {
	res, err := p.Fetch(ctx, rec.Value())
	if err != nil {
		p.logger.Warn("Probe failed", "url", rec.Value(), "error", err)
		rec.SetProbe(nil)
		metrics.ObserveCall(string(domain.Probe), metrics.OutcomeFailure, 0)
		return rec
	}
	rec.SetProbe(res)
	metrics.ObserveCall(string(domain.Probe), metrics.OutcomeSuccess, float64(res.ResponseTimeMs)/1000)
	return rec
}

func (p *Prober) VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord {
	return verify.Many(ctx, p.logger, p, recs, p.cfg.Concurrency)
}

// Fetch issues a GET and reports what came back. Any HTTP status is a result;
// only failing to get a response at all is an error.
func (p *Prober) Fetch(ctx context.Context, rawURL string) (*domain.ProbeResult, error) {
	p.logger.Debug("Probing", "url", rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verify.ErrTransport, err)
	}
	req.Header = p.headers()

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verify.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	elapsed := p.now().Sub(start)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", verify.ErrTransport, err)
	}

	res := &domain.ProbeResult{
		Status:          strconv.Itoa(resp.StatusCode),
		BytesDownloaded: int64(len(body)),
		RespondedURL:    resp.Request.URL.String(),
		Server:          resp.Header.Get("Server"),
		ContentType:     resp.Header.Get("Content-Type"),
		ResponseTimeMs:  elapsed.Milliseconds(),
		ProbedAt:        p.now().UTC(),
	}

	if strings.Contains(strings.ToLower(res.ContentType), "html") && len(body) > 0 {
		p.inspectHTML(body, res)
	}

	p.logger.Debug("Probe finished", "url", rawURL, "status", res.Status, "time_ms", res.ResponseTimeMs)
	return res, nil
}

func (p *Prober) inspectHTML(body []byte, res *domain.ProbeResult) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		p.logger.Debug("Could not parse probed HTML", "url", res.RespondedURL, "error", err)
		return
	}
	res.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript").Remove()
	words := strings.Fields(doc.Find("body").Text())
	if len(words) > 100 {
		words = words[:100]
	}
	textForDetection := strings.TrimSpace(res.Title + " " + strings.Join(words, " "))
	if textForDetection == "" {
		return
	}
	info := whatlanggo.Detect(textForDetection)
	if info.IsReliable() {
		res.Language = info.Lang.Iso6393()
	}
}
