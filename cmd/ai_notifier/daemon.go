package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/ai_notifier/internal/api"
	"github.com/dgnsrekt/ai_notifier/internal/browser"
	"github.com/dgnsrekt/ai_notifier/internal/cdp"
	"github.com/dgnsrekt/ai_notifier/internal/config"
	"github.com/dgnsrekt/ai_notifier/internal/controller"
	"github.com/dgnsrekt/ai_notifier/internal/events"
	"github.com/dgnsrekt/ai_notifier/internal/netutil"
	"github.com/dgnsrekt/ai_notifier/internal/notify"
	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/dgnsrekt/ai_notifier/internal/tracker"
	"github.com/samber/lo"
	"gopkg.in/natefinch/lumberjack.v2"
)

const appName = "ai-notifier"

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.servicesFile != "" {
		cfg.ServicesFile = opts.servicesFile
	}
	return cfg, nil
}

func loadMatcher(path string) (*service.Matcher, error) {
	if path == "" {
		return service.NewMatcher(service.Default()), nil
	}
	descs, err := service.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return service.NewMatcher(descs), nil
}

func runDaemon(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		return err
	}

	slog.Info("ai_notifier config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"backend", cfg.Backend,
		"services_file", cfg.ServicesFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	matcher, err := loadMatcher(cfg.ServicesFile)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BrowserAutoLaunch {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			Binary:     cfg.BrowserBinary,
			ProfileDir: cfg.BrowserProfileDir,
			StartURLs:  cfg.BrowserStartURLs,
		})
		if err := launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		if cfg.BrowserStopOnExit {
			defer launcher.Stop()
		}
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("bind control api: %w", err)
	}
	baseURL := netutil.BaseURL(ln.Addr())

	notifier, desktop, err := buildNotifier(ctx, cfg, baseURL)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if desktop != nil {
		defer func() {
			if err := desktop.Close(); err != nil {
				slog.Debug("dbus close failed", "error", err)
			}
		}()
	}

	broker := events.NewBroker()
	client := cdp.NewClient(cfg.CDPURL(), matcher.InScope)
	coord := tracker.New(matcher, client.Tabs(), notifier, tracker.Options{
		MinDuration:   cfg.MinDuration,
		Retention:     cfg.Retention,
		SweepInterval: cfg.SweepInterval,
		CallTimeout:   cfg.CallTimeout,
		Fallback:      tracker.ParseFallbackPolicy(cfg.ClickFallback),
		Message:       cfg.Message,
		Icon:          cfg.Icon,
		Publisher:     broker,
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("coordinator stopped", "error", err)
		}
	}()

	if err := client.Connect(ctx, coord); err != nil {
		_ = ln.Close()
		return fmt.Errorf("connect browser at %s: %w", cfg.CDPURL(), err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	if desktop != nil {
		go desktop.Listen(ctx, coord.OnNotificationClicked)
	}

	svc := controller.NewService(coord, matcher, client)
	srv := &http.Server{Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}
	// Shutdown does not cancel request contexts; SSE streams end when the
	// broker closes their channels.
	srv.RegisterOnShutdown(broker.Close)
	go func() {
		slog.Info("ai_notifier listening", "addr", ln.Addr().String(), "docs", baseURL+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ai_notifier server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("ai_notifier shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ai_notifier shutdown failed", "error", err)
	}
	<-loopDone
	return nil
}

// buildNotifier assembles the configured notification surfaces. desktop is
// non-nil when D-Bus notifications are in use, so clicks can be wired.
func buildNotifier(ctx context.Context, cfg *config.Config, baseURL string) (tracker.Notifier, *notify.Desktop, error) {
	var surfaces notify.Multi
	var desktop *notify.Desktop

	if cfg.Backend == config.BackendDesktop || cfg.Backend == config.BackendBoth {
		d, err := notify.NewDesktop(appName)
		if err != nil {
			if cfg.Backend == config.BackendDesktop {
				return nil, nil, fmt.Errorf("desktop notifications: %w", err)
			}
			slog.Warn("desktop notifications unavailable, using ntfy only", "error", err)
		} else {
			desktop = d
			surfaces = append(surfaces, d)
			checkCapabilities(ctx, d)
		}
	}
	if cfg.Backend == config.BackendNTFY || cfg.Backend == config.BackendBoth {
		surfaces = append(surfaces, notify.NewNTFY(&http.Client{Timeout: 10 * time.Second}, cfg.NTFYEndpoint, baseURL))
	}

	if len(surfaces) == 1 {
		return surfaces[0], desktop, nil
	}
	return surfaces, desktop, nil
}

func checkCapabilities(ctx context.Context, d *notify.Desktop) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	caps, err := d.Capabilities(ctx)
	if err != nil {
		slog.Warn("could not query notification server capabilities", "error", err)
		return
	}
	if !lo.Contains(caps, "actions") {
		slog.Warn("notification server does not support actions; clicks will not focus tabs", "capabilities", caps)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
