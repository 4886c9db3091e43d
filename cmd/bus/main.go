// Command bus runs the fan-out relay: it consumes one or more upstream
// geyser feeds and serves the merged, deduplicated stream to gRPC,
// WebSocket and TCP subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/config"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/internal/server"
	"github.com/solstream/bus/internal/source"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml")
	logLevel := pflag.String("log-level", "", "override logging.level")
	pflag.Parse()

	// optional .env for local runs
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bus: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("bus exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, log *slog.Logger) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no upstream sources configured")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	messages := channel.New(channel.Config{
		MaxMessages: cfg.Channel.MaxMessages,
		MaxBytes:    cfg.Channel.MaxBytes,
		Confirmed:   cfg.Channel.Confirmed,
		Finalized:   cfg.Channel.Finalized,
	}, m, log)
	sender := messages.NewSender()

	log.Info("starting bus",
		"sources", len(cfg.Sources),
		"multi_feed", cfg.MultiFeed(),
		"max_messages", cfg.Channel.MaxMessages,
		"max_bytes", cfg.Channel.MaxBytes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer messages.Close()
		return source.NewManager(cfg.Sources, sender, m, log).Run(ctx)
	})
	if cfg.GRPC.Enabled {
		g.Go(func() error {
			return server.NewGRPC(cfg.GRPC, messages, m, log).Run(ctx)
		})
	}
	if cfg.WS.Enabled {
		g.Go(func() error {
			return server.NewWS(cfg.WS, messages, m, log).Run(ctx)
		})
	}
	if cfg.TCP.Enabled {
		g.Go(func() error {
			return server.NewTCP(cfg.TCP, messages, m, log).Run(ctx)
		})
	}
	if cfg.HTTP.Enabled {
		g.Go(func() error {
			return server.NewHTTP(cfg.HTTP, messages, registry, log).Run(ctx)
		})
	}

	return g.Wait()
}
