package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendDesktop = "desktop"
	BackendNTFY    = "ntfy"
	BackendBoth    = "both"
)

// Config holds all configuration for the notifier daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	LogLevel string
	LogFile  string

	// Coordinator policy
	MinDuration   time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	CallTimeout   time.Duration
	ClickFallback string

	// Notification surfaces
	Backend      string
	NTFYEndpoint string
	Icon         string
	Message      string

	ServicesFile string

	// Browser launch
	BrowserAutoLaunch bool
	BrowserBinary     string
	BrowserProfileDir string
	BrowserStartURLs  []string
	BrowserStopOnExit bool
}

// Load reads configuration from environment variables and an optional .env
// file. envFile may be empty, in which case ./.env is tried.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:          getEnvOrDefault("NOTIFIER_BIND_ADDR", "127.0.0.1:8189"),
		PortCandidates:    getEnvListOrDefault("NOTIFIER_PORT_CANDIDATES", []string{"127.0.0.1:8190", "127.0.0.1:8191"}),
		PortAutoFallback:  getEnvBoolOrDefault("NOTIFIER_PORT_AUTO_FALLBACK", true),
		LogLevel:          strings.ToLower(getEnvOrDefault("NOTIFIER_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("NOTIFIER_LOG_FILE", "logs/ai_notifier.log"),
		MinDuration:       getEnvMillisOrDefault("NOTIFIER_MIN_DURATION_MS", time.Second),
		Retention:         getEnvSecondsOrDefault("NOTIFIER_RETENTION_SEC", 5*time.Minute),
		SweepInterval:     getEnvSecondsOrDefault("NOTIFIER_SWEEP_INTERVAL_SEC", time.Minute),
		CallTimeout:       getEnvMillisOrDefault("NOTIFIER_CALL_TIMEOUT_MS", 5*time.Second),
		ClickFallback:     strings.ToLower(getEnvOrDefault("NOTIFIER_CLICK_FALLBACK", "first-matching")),
		Backend:           strings.ToLower(getEnvOrDefault("NOTIFIER_BACKEND", BackendDesktop)),
		NTFYEndpoint:      getEnvOrDefault("NOTIFIER_NTFY_ENDPOINT", ""),
		Icon:              getEnvOrDefault("NOTIFIER_ICON", ""),
		Message:           getEnvOrDefault("NOTIFIER_MESSAGE", ""),
		ServicesFile:      getEnvOrDefault("NOTIFIER_SERVICES_FILE", ""),
		BrowserAutoLaunch: getEnvBoolOrDefault("BROWSER_AUTO_LAUNCH", false),
		BrowserBinary:     getEnvOrDefault("BROWSER_BINARY", ""),
		BrowserProfileDir: getEnvOrDefault("BROWSER_PROFILE_DIR", ""),
		BrowserStartURLs:  getEnvListOrDefault("BROWSER_START_URL", []string{"https://claude.ai/new"}),
		BrowserStopOnExit: getEnvBoolOrDefault("BROWSER_STOP_ON_EXIT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDesktop, BackendNTFY, BackendBoth:
	default:
		return fmt.Errorf("NOTIFIER_BACKEND must be desktop, ntfy or both, got %q", c.Backend)
	}
	switch c.ClickFallback {
	case "first-matching", "none":
	default:
		return fmt.Errorf("NOTIFIER_CLICK_FALLBACK must be first-matching or none, got %q", c.ClickFallback)
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("NOTIFIER_MIN_DURATION_MS must be positive")
	}
	if c.Retention <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("NOTIFIER_RETENTION_SEC and NOTIFIER_SWEEP_INTERVAL_SEC must be positive")
	}
	if c.CallTimeout < 100*time.Millisecond {
		c.CallTimeout = 100 * time.Millisecond
	}
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	return nil
}

// CDPURL returns the CDP HTTP endpoint used by both the raw client and the
// chromedp remote allocator.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, int(defaultVal/time.Millisecond))) * time.Millisecond
}

func getEnvSecondsOrDefault(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, int(defaultVal/time.Second))) * time.Second
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
