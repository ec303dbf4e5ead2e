// Package browser visits URLs in a real browser, keeps a screenshot and
// flags pages that show a phishing interstitial.
package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"urlscan/packages/domain"
	"urlscan/packages/logging"
	"urlscan/packages/metrics"
	"urlscan/packages/verify"
)

type Viewport struct {
	Width  int
	Height int
}

// ParseViewport reads a "<width>x<height>" resolution.
func ParseViewport(resolution string) (Viewport, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(resolution), "x")
	if !ok {
		return Viewport{}, fmt.Errorf("invalid resolution %q: want WIDTHxHEIGHT", resolution)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Viewport{}, fmt.Errorf("invalid resolution width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Viewport{}, fmt.Errorf("invalid resolution height %q", h)
	}
	return Viewport{Width: width, Height: height}, nil
}

func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// Page is what a renderer brings back from one navigation.
type Page struct {
	Status     int64
	HTML       string
	Screenshot []byte
	FinalURL   string
}

type Renderer interface {
	Render(ctx context.Context, rawURL, userAgent string, vp Viewport) (*Page, error)
}

type Config struct {
	UserAgent      string
	Viewport       Viewport
	Timeout        time.Duration
	ScreenshotDir  string
	BlockedPhrases []string
	Concurrency    int
}

type Client struct {
	cfg      Config
	renderer Renderer
	logger   *slog.Logger
}

func New(cfg Config, renderer Renderer, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		renderer: renderer,
		logger:   logging.OrDiscard(logger).With("collaborator", string(domain.Browser)),
	}
}

func (c *Client) Name() domain.Collaborator { return domain.Browser }

func (c *Client) VerifyOne(ctx context.Context, rec *domain.URLRecord) *domain.URLRecord {
	start := time.Now()
	res, err := c.Visit(ctx, rec.Value())
	if err != nil {
		c.logger.Warn("Browser visit failed", "url", rec.Value(), "error", err)
		rec.SetBrowser(nil)
		metrics.ObserveCall(string(domain.Browser), metrics.OutcomeFailure, time.Since(start).Seconds())
		return rec
	}
	rec.SetBrowser(res)
	metrics.ObserveCall(string(domain.Browser), metrics.OutcomeSuccess, time.Since(start).Seconds())
	return rec
}

func (c *Client) VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord {
	return verify.Many(ctx, c.logger, c, recs, c.cfg.Concurrency)
}

// Visit renders rawURL, stores the screenshot and checks the page text for
// blocking phrases.
func (c *Client) Visit(ctx context.Context, rawURL string) (*domain.BrowserResult, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	page, err := c.renderer.Render(ctx, rawURL, c.cfg.UserAgent, c.cfg.Viewport)
	if err != nil {
		return nil, err
	}
	if page.Status == 0 {
		return nil, fmt.Errorf("%w: no document response for %s", verify.ErrMalformedResponse, rawURL)
	}

	res := &domain.BrowserResult{
		Status:   strconv.FormatInt(page.Status, 10),
		FinalURL: page.FinalURL,
	}
	if len(page.Screenshot) > 0 {
		path, err := c.saveScreenshot(rawURL, page.Screenshot)
		if err != nil {
			c.logger.Error("Failed to save screenshot", "url", rawURL, "error", err)
		} else {
			res.Screenshot = path
		}
	}

	text, err := visibleText(page.HTML)
	if err != nil {
		c.logger.Debug("Could not parse rendered HTML", "url", rawURL, "error", err)
	}
	res.Blocked = ContainsBlockedPhrase(text, c.cfg.BlockedPhrases)
	if res.Blocked {
		c.logger.Info("Page shows a blocking interstitial", "url", rawURL)
	}
	return res, nil
}

// ScreenshotName is the file name used for rawURL's screenshot. The
// extension follows the image format found in data.
func ScreenshotName(rawURL string, data []byte) string {
	sum := sha256.Sum256([]byte(rawURL))
	ext := ".png"
	if http.DetectContentType(data) == "image/jpeg" {
		ext = ".jpg"
	}
	return hex.EncodeToString(sum[:])[:16] + ext
}

func (c *Client) saveScreenshot(rawURL string, data []byte) (string, error) {
	dir := c.cfg.ScreenshotDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(dir, ScreenshotName(rawURL, data))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func visibleText(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}

// ContainsBlockedPhrase reports whether any phrase occurs in text. Matching
// is exact and case-sensitive.
func ContainsBlockedPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
