package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"profiled/internal/arbiter"
	"profiled/internal/backend"
	"profiled/internal/config"
	"profiled/internal/dbusapi"
	"profiled/internal/events"
	"profiled/internal/holds"
	"profiled/internal/liveness"
	"profiled/internal/metrics"
	"profiled/internal/profile"
)

const defaultConfigPath = "/etc/profiled/profiled.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	flag.Parse()

	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "superuser permissions are required to run the daemon")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	logger.Info("config loaded", "base_profile", cfg.BaseProfile, "bus", cfg.BusName)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Error("failed to connect to system bus", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	trans, err := profile.NewTranslator(cfg.Mapping())
	if err != nil {
		logger.Error("invalid profile mapping", "error", err)
		os.Exit(1)
	}

	be := backend.NewTuned(conn, cfg.Backend, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup probe: the backend must be reachable and report a profile
	// inside the known vocabulary.
	native, err := be.ActiveProfile(ctx)
	if err != nil {
		logger.Error("backend unreachable", "error", err)
		os.Exit(1)
	}
	current, err := trans.FromBackend(native)
	if err != nil {
		if errors.Is(err, profile.ErrUnknownBackendProfile) {
			logger.Error("backend reports a profile outside the configured mapping", "profile", native)
		} else {
			logger.Error("backend probe failed", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("backend probed", "profile", current)

	watcher := liveness.NewWatcher(&liveness.SystemBus{Conn: conn}, logger)
	go watcher.Run(ctx)

	emitter := events.NewEmitter(logger)
	metrics.RegisterEventHandler(emitter)

	watch := func(owner string, onGone func()) holds.Watch {
		return watcher.Watch(owner, onGone)
	}
	ctrl := arbiter.New(cfg.BaseProfile, watch, be, trans, emitter, logger)

	server := dbusapi.NewServer(conn, ctrl, emitter, cfg.BusName, cfg.ObjectPath, logger)
	if err := server.Export(ctx); err != nil {
		logger.Error("failed to export interface", "error", err)
		os.Exit(1)
	}

	if cfg.MetricsListen != "" {
		srv := &http.Server{
			Addr:         cfg.MetricsListen,
			Handler:      metrics.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting", "addr", cfg.MetricsListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig, "active_holds", len(ctrl.Holds()))
	server.Close()
	cancel()

	fmt.Println("profiled stopped")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return cfg, err
}
