// Package config
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	VirusTotalAPIKey    string
	VirusTotalBaseURL   string
	GoogleAPIKey        string
	SafeBrowsingBaseURL string
	ClientID            string
	ClientVersion       string
	BatchSize           int
	Cooldown            time.Duration
	WatchInterval       time.Duration
	FetchTimeout        time.Duration
	BrowserTimeout      time.Duration
	ReputationPerMinute int
	ReputationSubmit    bool
	RetryAttempts       int
	RetryDelay          time.Duration
	UserAgent           string
	Resolution          string
	Headless            bool
	ScreenshotDir       string
	BlockedPhrases      []string
	LogFile             string
	LogLevel            string
	MetricsAddr         string
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	CacheTTL            time.Duration
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:131.0) Gecko/20100101 Firefox/131.0"

// DefaultBlockedPhrases are interstitial texts shown by browsers in front of
// pages flagged as deceptive.
var DefaultBlockedPhrases = []string{
	"Deceptive site ahead",
	"Dangerous site",
	"Phishing attack ahead",
	"Suspected phishing site",
	"Deceptive website warning",
	"This site has been reported as unsafe",
	"Reported Unsafe Site",
}

func Load() (Config, error) {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := Config{}
	var err error

	cfg.VirusTotalAPIKey = getEnv("VIRUS_TOTAL_API_KEY", "")
	cfg.VirusTotalBaseURL = getEnv("VIRUS_TOTAL_BASE_URL", "https://www.virustotal.com/api/v3")
	cfg.GoogleAPIKey = getEnv("GOOGLE_API_KEY", "")
	cfg.SafeBrowsingBaseURL = getEnv("SAFE_BROWSING_BASE_URL", "https://safebrowsing.googleapis.com/v4")
	cfg.ClientID = getEnv("CLIENT_ID", "urlscan")
	cfg.ClientVersion = getEnv("CLIENT_VERSION", "0.1.0")

	// The reputation service's public tier allows 4 lookups per minute, so the
	// defaults drain one batch of 4 per minute.
	cfg.BatchSize, err = strconv.Atoi(getEnv("BATCH_SIZE", "4"))
	if err != nil {
		slog.Warn("Invalid BATCH_SIZE", "value", getEnv("BATCH_SIZE", "4"), "error", err)
		cfg.BatchSize = 4
	}
	cfg.Cooldown = getDuration("COOLDOWN", 60*time.Second)
	cfg.WatchInterval = getDuration("WATCH_INTERVAL", time.Hour)
	cfg.FetchTimeout = getDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.BrowserTimeout = getDuration("BROWSER_TIMEOUT", 45*time.Second)
	cfg.ReputationPerMinute = getInt("REPUTATION_RATE_PER_MINUTE", 4)
	cfg.ReputationSubmit = getBool("REPUTATION_SUBMIT_UNKNOWN", true)
	cfg.RetryAttempts = getInt("RETRY_ATTEMPTS", 3)
	cfg.RetryDelay = getDuration("RETRY_DELAY", 3*time.Second)

	cfg.UserAgent = getEnv("USER_AGENT", DefaultUserAgent)
	cfg.Resolution = getEnv("RESOLUTION", "1920x1080")
	cfg.Headless = getBool("HEADLESS", true)
	cfg.ScreenshotDir = getEnv("SCREENSHOT_DIR", "screenshots")
	cfg.BlockedPhrases = DefaultBlockedPhrases
	if raw := getEnv("BLOCKED_PHRASES", ""); raw != "" {
		cfg.BlockedPhrases = splitNonEmpty(raw, "|")
	}

	cfg.LogFile = getEnv("LOG_FILE", "logs/urlscan.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)
	cfg.CacheTTL = getDuration("CACHE_TTL", 6*time.Hour)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var problems []string
	if c.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("BATCH_SIZE must be >= 1, got %d", c.BatchSize))
	}
	if c.Cooldown < 0 {
		problems = append(problems, fmt.Sprintf("COOLDOWN must not be negative, got %s", c.Cooldown))
	}
	if c.WatchInterval <= 0 {
		problems = append(problems, fmt.Sprintf("WATCH_INTERVAL must be positive, got %s", c.WatchInterval))
	}
	if c.ReputationPerMinute < 1 {
		problems = append(problems, fmt.Sprintf("REPUTATION_RATE_PER_MINUTE must be >= 1, got %d", c.ReputationPerMinute))
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func getBool(key string, defaultVal bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func splitNonEmpty(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
