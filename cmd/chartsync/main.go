package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/chartsync/internal/api"
	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/config"
	"github.com/dgnsrekt/chartsync/internal/events"
	"github.com/dgnsrekt/chartsync/internal/journal"
	"github.com/dgnsrekt/chartsync/internal/metrics"
	"github.com/dgnsrekt/chartsync/internal/netutil"
	"github.com/dgnsrekt/chartsync/internal/notify"
	"github.com/dgnsrekt/chartsync/internal/publish"
	"github.com/dgnsrekt/chartsync/internal/relay"
	"github.com/dgnsrekt/chartsync/internal/session"
	"github.com/dgnsrekt/chartsync/internal/surface"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("chartsync config loaded",
		"version", version,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"backend_url", cfg.BackendURL,
		"live_ws_url", cfg.LiveWSURL,
		"default_resolution", cfg.DefaultResolution,
		"journal_dir", cfg.JournalDir,
		"surface_enabled", cfg.SurfaceEnabled,
		"mqtt_enabled", cfg.MQTTBroker != "",
		"ntfy_enabled", cfg.NtfyEndpoint != "",
		"sentry_enabled", cfg.SentryDSN != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ln, err := netutil.Listen(cfg.BindAddr, netutil.Candidates(cfg.BindAddr, cfg.PortCandidates), cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	jw := journal.New(cfg.JournalDir, journal.Options{})
	defer func() {
		if err := jw.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
	}()

	var notifiers notify.Fanout
	if cfg.NtfyEndpoint != "" {
		n := notify.NewNtfy(cfg.NtfyEndpoint, nil)
		defer n.Close()
		notifiers = append(notifiers, n)
	}
	if cfg.SentryDSN != "" {
		s, err := notify.NewSentry(notify.SentryOptions{DSN: cfg.SentryDSN, Environment: cfg.SentryEnvironment, Release: "chartsync@" + version})
		if err != nil {
			slog.Warn("sentry disabled", "error", err)
		} else {
			defer s.Close()
			notifiers = append(notifiers, s)
		}
	}

	broker := relay.NewBroker()
	sinks := session.MultiSink{broker}

	if cfg.MQTTBroker != "" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := publish.Dial(dialCtx, publish.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		})
		cancel()
		if err != nil {
			slog.Warn("mqtt publisher disabled", "broker", cfg.MQTTBroker, "error", err)
		} else {
			p := publish.NewPublisher(conn, cfg.MQTTTopic)
			defer p.Close()
			sinks = append(sinks, p)
		}
	}

	var reg *session.Registry
	var bridge *surface.Bridge
	if cfg.SurfaceEnabled {
		bridge = surface.NewBridge(surface.Config{
			CDPURL:       cfg.CDPURL(),
			TabURLFilter: cfg.SurfaceTabFilter,
		}, surface.DispatchFunc(func(ctx context.Context, symbol string, raw events.Raw) (int, error) {
			return reg.Dispatch(ctx, symbol, raw)
		}))
		sinks = append(sinks, bridge)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout(), cfg.Tuning.HistoryCacheTTL(), backend.WithMetrics(m))
	reg = session.NewRegistry(session.Deps{
		Backend: client,
		NewLive: func(symbol string, onFrame backend.LiveHandler) session.Live {
			return backend.NewLiveChannel(cfg.LiveWSURL, onFrame, m)
		},
		Sink:              sinks,
		Notifier:          notifiers,
		Recorder:          jw,
		Metrics:           m,
		Tuning:            cfg.Tuning,
		DefaultResolution: cfg.DefaultResolution,
	})
	defer reg.Close()

	if bridge != nil {
		if cfg.SurfaceLaunch {
			launcher := surface.NewLauncher(surface.LaunchConfig{
				CDPAddress: cfg.CDPAddress,
				CDPPort:    cfg.CDPPort,
				StartURL:   cfg.SurfaceStartURL,
				ProfileDir: cfg.SurfaceProfile,
				Headless:   cfg.SurfaceHeadless,
			})
			if err := launcher.Launch(context.Background()); err != nil {
				slog.Warn("surface browser launch failed", "error", err)
			}
			defer launcher.Stop()
		}
		if err := bridge.Connect(context.Background()); err != nil {
			slog.Warn("surface bridge not attached", "cdp_url", cfg.CDPURL(), "error", err)
		}
		defer func() {
			if err := bridge.Close(); err != nil {
				slog.Debug("surface bridge close failed", "error", err)
			}
		}()
	}

	h := api.NewServer(api.NewRegistryService(reg), api.Options{
		Broker:   broker,
		Gatherer: promReg,
		Version:  version,
	})
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	addr := ln.Addr().String()
	go func() {
		slog.Info("chartsync listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("chartsync server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("chartsync shutdown failed", "error", err)
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

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
