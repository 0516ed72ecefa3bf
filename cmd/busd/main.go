// SPDX-License-Identifier: MIT

// busd runs the event bus operational daemon: it connects to the broker
// and serves the history/DLQ admin API, health probes and metrics.
// Services publish and consume through the bus library directly; busd is
// the visibility surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auditflow/ledgerbus/internal/api"
	"github.com/auditflow/ledgerbus/internal/bus"
	"github.com/auditflow/ledgerbus/internal/config"
	"github.com/auditflow/ledgerbus/internal/health"
	buslog "github.com/auditflow/ledgerbus/internal/log"
	"github.com/auditflow/ledgerbus/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("busd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	buslog.Configure(buslog.Config{Level: "info", Service: "busd", Version: version})
	logger := buslog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}
	buslog.Configure(buslog.Config{Level: cfg.LogLevel, Service: "busd", Version: version})
	logger = buslog.WithComponent("daemon")

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := buslog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "busd",
		ServiceVersion: version,
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	b := bus.New(bus.Config{
		RedisURL:      cfg.RedisURL,
		MaxRetries:    cfg.MaxRetries,
		PersistEvents: cfg.PersistEvents,
		EventTTL:      cfg.EventTTL.Std(),
		BackoffCap:    cfg.BackoffCap.Std(),
		PollTimeout:   cfg.PollTimeout.Std(),
	})
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.Disconnect(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("bus disconnect failed")
		}
	}()

	hm := health.NewManager(version)
	hm.Register(health.PingChecker{ComponentName: "redis", Ping: b.Ping})

	srv := api.New(api.Config{
		ListenAddr:   cfg.ListenAddr,
		RateLimitRPS: cfg.RateLimitRPS,
	}, b, hm).HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("admin API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
