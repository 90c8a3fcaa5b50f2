// Command dispatch-proxy serves the batch dispatcher over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bacchus45/stemtok-dispatch/pkg/batch"
	"github.com/Bacchus45/stemtok-dispatch/pkg/logging"
	"github.com/Bacchus45/stemtok-dispatch/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fallback := logging.Setup(logging.DefaultConfig())
		fallback.Fatal().Err(err).Msg("Failed to load config")
	}

	base := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	logger := base.With().Str("component", "dispatch-proxy").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid Redis configuration")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", opts.Addr).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	dispatcher, err := newDispatcher(cfg, redisClient, base)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dispatcher")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newServer(dispatcher, redisClient, logger).routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("upstream", cfg.UpstreamBaseURL).
		Bool("error_budget", redisClient != nil).
		Msg("Starting dispatch proxy")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// newDispatcher builds the dispatcher, gated by the Redis error budget when
// a client is given. logger must not carry a component field yet.
func newDispatcher(cfg *Config, redisClient *redis.Client, logger zerolog.Logger) (*batch.Dispatcher, error) {
	dcfg := batch.DefaultConfig(cfg.UpstreamBaseURL)
	dcfg.RequestTimeout = cfg.RequestTimeout
	dcfg.MaxConcurrency = cfg.MaxConcurrency
	dcfg.RateLimit = cfg.RateLimit
	dcfg.InitialBackoff = cfg.InitialBackoff
	dcfg.MaxBackoff = cfg.MaxBackoff

	dispatcherLogger := logger.With().Str("component", "batch-dispatcher").Logger()
	dcfg.Logger = &dispatcherLogger

	if redisClient != nil {
		dcfg.Gate = ratelimit.NewTracker(redisClient, logger)
	}

	return batch.New(dcfg)
}
