// Package feed downloads public phishing URL lists so they can be scanned.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"urlscan/packages/logging"
)

const maxFeedSize = 50 << 20

var errTruncated = errors.New("feed exceeds maximum size")

// Source describes one downloadable list.
type Source struct {
	Name string
	URL  string
	// Prefix is prepended to every line, for lists that carry bare domains.
	Prefix string
	// DefaultFile is where the CLI writes the list when no path is given.
	DefaultFile string
}

var (
	OpenPhish = Source{
		Name:        "openphish",
		URL:         "https://raw.githubusercontent.com/openphish/public_feed/refs/heads/main/feed.txt",
		DefaultFile: "OPEN-PHISH.md",
	}
	CERT = Source{
		Name:        "cert",
		URL:         "https://hole.cert.pl/domains/v2/domains.txt",
		Prefix:      "http://",
		DefaultFile: "CERT.md",
	}
)

type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

func NewFetcher(timeout time.Duration, userAgent string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logging.OrDiscard(logger),
	}
}

// Fetch downloads src and returns its URLs in feed order, without repeats.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", src.Name, resp.StatusCode)
	}

	lr := &io.LimitedReader{R: resp.Body, N: maxFeedSize + 1}
	urls, err := Parse(lr, src.Prefix)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Name, err)
	}
	if lr.N == 0 {
		return nil, fmt.Errorf("%s: %w", src.Name, errTruncated)
	}
	f.logger.Info("Feed downloaded", "feed", src.Name, "urls", len(urls))
	return urls, nil
}

// Parse reads one entry per line, prefixing each with prefix.
func Parse(r io.Reader, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u := prefix + line
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls, scanner.Err()
}

// WriteFile stores urls one per line.
func WriteFile(path string, urls []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, u := range urls {
		if _, err := w.WriteString(u + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
