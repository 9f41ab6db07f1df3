// slabsink is the ingest pipeline: consumes structured log entries from NATS
// JetStream and sinks them as telemetry records into the configured
// backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/copjon/slab-sinks/internal/cache"
	"github.com/copjon/slab-sinks/internal/config"
	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/exporter"
	"github.com/copjon/slab-sinks/internal/metrics"
	"github.com/copjon/slab-sinks/internal/sink"
	"github.com/copjon/slab-sinks/internal/source"
	"github.com/copjon/slab-sinks/internal/storage"
	"github.com/copjon/slab-sinks/internal/telemetry"
	"github.com/copjon/slab-sinks/internal/transport"
)

func main() {
	configPath := flag.String("config", constants.DefaultConfigPath, "path to YAML config")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	logger.Info("slabsink starting", zap.String("version", constants.Version))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Config load failed", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Transport backend
	client, cleanup, err := buildClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Transport setup failed", zap.Error(err))
	}
	defer cleanup()

	// Metrics + sink
	mets := metrics.New()
	snk, err := sink.New(sink.Options{
		InstanceName:   cfg.Sink.InstanceName,
		GlobalContext:  cfg.Sink.GlobalContext,
		BufferInterval: cfg.Sink.BufferInterval,
		CountThreshold: cfg.Sink.CountThreshold,
		MaxBufferSize:  cfg.Sink.MaxBufferSize,
		FlushTimeout:   cfg.Sink.FlushTimeout,
	}, client, logger, mets)
	if err != nil {
		logger.Fatal("Sink setup failed", zap.Error(err))
	}
	defer snk.Close()

	// Ops server
	ops := exporter.New(cfg.Metrics.Addr, logger)
	ops.SetReady()
	go func() {
		if err := ops.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Ops server error", zap.Error(err))
		}
	}()

	// Ingest until shutdown; the source signals completion to the sink,
	// which runs its bounded flush before teardown.
	src := source.New(cfg.Ingest, snk, logger)
	if err := src.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("Source error", zap.Error(err))
	}

	logger.Info("slabsink stopped")
}

// buildClient wires the configured backend, optionally decorated with
// the Redis live tail.
func buildClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (telemetry.Client, func(), error) {
	var (
		client  telemetry.Client
		cleanup func()
	)

	switch cfg.Transport.Backend {
	case config.BackendClickHouse:
		ch, err := storage.NewClickHouse(cfg.ClickHouse, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		client, cleanup = ch, func() { ch.Close() }
	case config.BackendNATS:
		nt, err := transport.NewNATS(ctx, cfg.NATS, cfg.Sink.InstanceName, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		client, cleanup = nt, func() { nt.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Transport.Backend)
	}

	if cfg.Transport.LiveTail {
		r, err := cache.NewRedis(cfg.Redis.Cache(), logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		inner := cleanup
		client = cache.NewLiveTee(client, r, cfg.Redis.LiveChannel, cfg.Sink.InstanceName, logger)
		cleanup = func() {
			r.Close()
			inner()
		}
	}

	return client, cleanup, nil
}

// newLogger builds the production logger, honoring SLABSINK_LOG_LEVEL.
func newLogger() *zap.Logger {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "ts"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level := os.Getenv(constants.EnvLogLevel); level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			logConfig.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
