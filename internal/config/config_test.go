package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9222" {
		t.Fatalf("CDPURL() = %q", cfg.CDPURL())
	}
	if cfg.MinDuration != time.Second || cfg.Retention != 5*time.Minute || cfg.SweepInterval != time.Minute {
		t.Fatalf("durations = %v/%v/%v", cfg.MinDuration, cfg.Retention, cfg.SweepInterval)
	}
	if cfg.Backend != BackendDesktop || cfg.ClickFallback != "first-matching" {
		t.Fatalf("backend/fallback = %q/%q", cfg.Backend, cfg.ClickFallback)
	}
	if len(cfg.PortCandidates) != 2 {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("NOTIFIER_MIN_DURATION_MS", "2500")
	t.Setenv("NOTIFIER_RETENTION_SEC", "30")
	t.Setenv("NOTIFIER_BACKEND", "Both")
	t.Setenv("NOTIFIER_CLICK_FALLBACK", "none")
	t.Setenv("NOTIFIER_PORT_CANDIDATES", " 127.0.0.1:9001, ,127.0.0.1:9002")
	t.Setenv("BROWSER_AUTO_LAUNCH", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9333 {
		t.Fatalf("CDPPort = %d", cfg.CDPPort)
	}
	if cfg.MinDuration != 2500*time.Millisecond || cfg.Retention != 30*time.Second {
		t.Fatalf("MinDuration/Retention = %v/%v", cfg.MinDuration, cfg.Retention)
	}
	if cfg.Backend != BackendBoth || cfg.ClickFallback != "none" {
		t.Fatalf("backend/fallback = %q/%q", cfg.Backend, cfg.ClickFallback)
	}
	if strings.Join(cfg.PortCandidates, "|") != "127.0.0.1:9001|127.0.0.1:9002" {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
	if !cfg.BrowserAutoLaunch {
		t.Fatal("BrowserAutoLaunch should be true")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "notifier.env")
	if err := os.WriteFile(path, []byte("NOTIFIER_NTFY_ENDPOINT=http://ntfy.local/ai\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("NOTIFIER_NTFY_ENDPOINT") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NTFYEndpoint != "http://ntfy.local/ai" {
		t.Fatalf("NTFYEndpoint = %q", cfg.NTFYEndpoint)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err == nil {
		t.Fatal("expected error for a missing explicit env file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"NOTIFIER_BACKEND":         "pager",
		"NOTIFIER_CLICK_FALLBACK":  "random",
		"NOTIFIER_MIN_DURATION_MS": "-5",
		"NOTIFIER_RETENTION_SEC":   "0",
		"CHROMIUM_CDP_PORT":        "70000",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, val)
			if _, err := Load(""); err == nil {
				t.Fatalf("Load() with %s=%s should fail", key, val)
			}
		})
	}
}
