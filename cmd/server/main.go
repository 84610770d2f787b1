// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	_ "conversion-job-service/docs"
	"conversion-job-service/internal/config"
	"conversion-job-service/internal/engine/local"
	"conversion-job-service/internal/naming"
	"conversion-job-service/internal/service"
	httptransport "conversion-job-service/internal/transport/http"
	"conversion-job-service/internal/validation"
)

// @title Conversion Job Service API
// @version 1.0
// @description Starts, tracks and cancels document + audio conversion jobs.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "conversion-job-service").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger = logger.Level(cfg.LogLevel)

	// Redis is optional: without it names are reserved on the local
	// filesystem only.
	lockDir := naming.WithLockDir(cfg.NamerLockDir)
	var namer naming.Namer = naming.NewLocalNamer(lockDir)
	if cfg.RedisAddr != "" {
		opts, err := redisOptions(cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_addr", redactAddr(cfg.RedisAddr)).Msg("redis")
		}
		defer rdb.Close()
		namer = naming.NewRedisNamer(rdb, cfg.RedisKeyPrefix, cfg.NameTTL, lockDir)
	}

	// DI
	eng := local.New(local.Config{FetchTimeout: cfg.FetchTimeout}, logger)
	validator := validation.New(validation.Config{
		AllowedHosts:      cfg.AllowedHosts,
		MaxAudioBytes:     cfg.MaxAudioBytes,
		CreateDestination: cfg.CreateDestination,
	})

	controller, err := service.New(service.Options{
		Engine:       eng,
		Namer:        namer,
		Validator:    validator,
		Weights:      cfg.StageWeights,
		Workers:      cfg.Workers,
		OutputExt:    cfg.OutputExt,
		EventHistory: cfg.EventHistory,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("controller")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(httptransport.NewHandler(controller), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Int("workers", cfg.Workers).
		Int64("max_audio_bytes", cfg.MaxAudioBytes).
		Strs("allowed_hosts", cfg.AllowedHosts).
		Str("redis_addr", redactAddr(cfg.RedisAddr)).
		Msg("server started")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("controller shutdown")
	}

	logger.Info().Msg("server stopped")
}

// redisOptions accepts either host:port or a redis:// URL.
func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

// redactAddr masks the password of redis:// URLs, including the
// password-only form redis://:secret@host.
func redactAddr(addr string) string {
	if !strings.Contains(addr, "://") {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "<unparseable redis url>"
	}
	return u.Redacted()
}
