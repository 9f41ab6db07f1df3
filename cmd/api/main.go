// API server for slab-sinks. Serves stored telemetry records and the
// live tail websocket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/api"
	"github.com/copjon/slab-sinks/internal/cache"
	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("slab-sinks API starting")

	// ClickHouse
	chCfg := storage.DefaultClickHouseConfig()
	if dsn := os.Getenv(constants.EnvClickHouseDSN); dsn != "" {
		chCfg.DSN = dsn
	}
	ch, err := storage.NewClickHouse(chCfg, logger)
	if err != nil {
		logger.Fatal("ClickHouse connection failed", zap.Error(err))
	}
	defer ch.Close()

	// Redis
	rCfg := cache.DefaultRedisConfig()
	if addr := os.Getenv(constants.EnvRedisAddr); addr != "" {
		rCfg.Addr = addr
	}
	redis, err := cache.NewRedis(rCfg, logger)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redis.Close()

	// API Server
	addr := constants.APIDefaultAddr
	if a := os.Getenv("SLABSINK_API_ADDR"); a != "" {
		addr = a
	}

	srv := api.NewServer(addr, ch, redis, constants.RedisLiveChannel, logger)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("API server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API server")
	srv.Stop()
}
