package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/ai_notifier/internal/service"
)

func TestServicesTable(t *testing.T) {
	rows := servicesTable(service.NewMatcher(service.Default()).Infos())
	if len(rows) != 4 {
		t.Fatalf("rows = %d; want header plus 3 services", len(rows))
	}
	if rows[1][0] != "1" || rows[1][1] != "claude" {
		t.Fatalf("first row = %v", rows[1])
	}
	if rows[2][3] != "https://chatgpt.com/*, https://chat.openai.com/*" {
		t.Fatalf("chatgpt patterns = %q", rows[2][3])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "services.yaml")
	data := []byte("services:\n  - id: claude\n    name: Claude\n    url_patterns: [\"https://claude.ai/*\"]\n    methods: [POST]\n    url_contains: [completion]\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write services file: %v", err)
	}

	cfg, err := loadConfig(&rootOptions{logLevel: "debug", servicesFile: path})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.ServicesFile != path {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	m, err := loadMatcher(cfg.ServicesFile)
	if err != nil {
		t.Fatalf("loadMatcher() error = %v", err)
	}
	if len(m.Infos()) != 1 {
		t.Fatalf("Infos() = %+v; want the file's single service", m.Infos())
	}
	if _, ok := m.Match("https://chatgpt.com/backend-api/conversation", "POST"); ok {
		t.Fatal("services file should replace the default table")
	}
}

func TestRootCommandHasServicesSubcommand(t *testing.T) {
	cmd := newRootCmd()
	sub, _, err := cmd.Find([]string{"services"})
	if err != nil || sub.Name() != "services" {
		t.Fatalf("Find(services) = %v, %v", sub, err)
	}
	if cmd.PersistentFlags().Lookup("env-file") == nil {
		t.Fatal("missing --env-file flag")
	}
}

func TestServicesCommandRuns(t *testing.T) {
	t.Chdir(t.TempDir())

	for _, args := range [][]string{
		{"services"},
		{"services", "-o", "json"},
		{"services", "--match", "https://claude.ai/api/organizations/o/chat_conversations/c/completion"},
		{"services", "--match", "https://example.com/", "--method", "get"},
	} {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: Execute() error = %v", args, err)
		}
	}
}
