package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Browser    BrowserConfig
	Scraper    ScraperConfig
	Probe      ProbeConfig
	Classifier ClassifierConfig
	Download   DownloadConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Session    SessionConfig
	Log        LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent scrape sessions).
	MaxPages int // default: 4

	// DefaultProxy is the proxy URL for the browser and the HTTP client.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects anti-bot-detection evasions into every page.
	Stealth bool // default: true
}

// ScraperConfig controls page loading and scroll stabilization.
type ScraperConfig struct {
	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 30s

	// SessionTimeout bounds a whole discovery run (navigate, scroll, classify).
	SessionTimeout time.Duration // default: 5m

	// MaxScrolls is the default scroll budget when the request omits one.
	MaxScrolls int // default: 5

	// SettleInterval is the wait after each scroll command.
	SettleInterval time.Duration // default: 2s

	// Fingerprint makes the scroll driver also compare media fingerprints.
	Fingerprint bool // default: false

	// BlockAds fails requests to well-known ad/tracking hosts.
	BlockAds bool // default: true
}

// ProbeConfig controls the header probe.
type ProbeConfig struct {
	// Timeout is how long the observed probe waits for the browser request.
	Timeout time.Duration // default: 5s

	// MemoryTTL is how long a host whose observed probe timed out is
	// sent straight to the synthesized headers.
	MemoryTTL time.Duration // default: 1h

	// UserAgent is used when the render context cannot report one.
	UserAgent string
}

// ClassifierConfig controls candidate validation.
type ClassifierConfig struct {
	// Timeout is the per-candidate request deadline.
	Timeout time.Duration // default: 5s

	// ThumbnailWidth is the max long edge of generated thumbnails.
	ThumbnailWidth int // default: 200

	// MaxImageBytes caps how much of an image body is read.
	MaxImageBytes int64 // default: 20 MiB
}

// DownloadConfig controls the download manager.
type DownloadConfig struct {
	// DefaultDir is used when a download request omits a destination.
	DefaultDir string // default: "downloads"

	// ChunkSize is the streaming buffer size; progress fires once per chunk.
	ChunkSize int // default: 64 KiB

	// Workers bounds parallel transfers across records.
	Workers int // default: 1

	// StallTimeout fails a transfer that receives no bytes for this long.
	StallTimeout time.Duration // default: 30s

	// RequestsPerSecond throttles transfer starts; 0 disables the limiter.
	RequestsPerSecond float64 // default: 0
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// SessionConfig controls how long finished scrape sessions stay addressable.
type SessionConfig struct {
	MaxEntries int           // default: 100
	TTL        time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("MEDIAGRAB_HOST", "0.0.0.0"),
			Port: envIntOr("MEDIAGRAB_PORT", 8080),
			Mode: envOr("MEDIAGRAB_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("MEDIAGRAB_HEADLESS", true),
			MaxPages:     envIntOr("MEDIAGRAB_MAX_PAGES", 4),
			DefaultProxy: os.Getenv("MEDIAGRAB_PROXY"),
			NoSandbox:    envBoolOr("MEDIAGRAB_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("MEDIAGRAB_BROWSER_BIN"),
			Stealth:      envBoolOr("MEDIAGRAB_STEALTH", true),
		},
		Scraper: ScraperConfig{
			NavigationTimeout: envDurationOr("MEDIAGRAB_NAV_TIMEOUT", 30*time.Second),
			SessionTimeout:    envDurationOr("MEDIAGRAB_SESSION_TIMEOUT", 5*time.Minute),
			MaxScrolls:        envIntOr("MEDIAGRAB_MAX_SCROLLS", 5),
			SettleInterval:    envDurationOr("MEDIAGRAB_SCROLL_SETTLE", 2*time.Second),
			Fingerprint:       envBoolOr("MEDIAGRAB_SCROLL_FINGERPRINT", false),
			BlockAds:          envBoolOr("MEDIAGRAB_BLOCK_ADS", true),
		},
		Probe: ProbeConfig{
			Timeout:   envDurationOr("MEDIAGRAB_PROBE_TIMEOUT", 5*time.Second),
			MemoryTTL: envDurationOr("MEDIAGRAB_PROBE_MEMORY_TTL", time.Hour),
			UserAgent: envOr("MEDIAGRAB_USER_AGENT", DefaultUserAgent),
		},
		Classifier: ClassifierConfig{
			Timeout:        envDurationOr("MEDIAGRAB_CLASSIFY_TIMEOUT", 5*time.Second),
			ThumbnailWidth: envIntOr("MEDIAGRAB_THUMBNAIL_WIDTH", 200),
			MaxImageBytes:  int64(envIntOr("MEDIAGRAB_MAX_IMAGE_BYTES", 20<<20)),
		},
		Download: DownloadConfig{
			DefaultDir:        envOr("MEDIAGRAB_DOWNLOAD_DIR", "downloads"),
			ChunkSize:         envIntOr("MEDIAGRAB_CHUNK_SIZE", 64<<10),
			Workers:           envIntOr("MEDIAGRAB_DOWNLOAD_WORKERS", 1),
			StallTimeout:      envDurationOr("MEDIAGRAB_DOWNLOAD_TIMEOUT", 30*time.Second),
			RequestsPerSecond: envFloatOr("MEDIAGRAB_DOWNLOAD_RPS", 0),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("MEDIAGRAB_AUTH_ENABLED", true),
			APIKeys: envSliceOr("MEDIAGRAB_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("MEDIAGRAB_RATE_RPS", 5.0),
			Burst:             envIntOr("MEDIAGRAB_RATE_BURST", 10),
		},
		Session: SessionConfig{
			MaxEntries: envIntOr("MEDIAGRAB_SESSION_MAX_ENTRIES", 100),
			TTL:        envDurationOr("MEDIAGRAB_SESSION_TTL", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("MEDIAGRAB_LOG_LEVEL", "info"),
			Format: envOr("MEDIAGRAB_LOG_FORMAT", "json"),
		},
	}
}

// DefaultUserAgent is a current desktop Chrome identity string.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
