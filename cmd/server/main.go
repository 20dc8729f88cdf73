package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/admin"
	"github.com/HanTheDev/embedding-service/internal/auth"
	"github.com/HanTheDev/embedding-service/internal/cache"
	"github.com/HanTheDev/embedding-service/internal/config"
	"github.com/HanTheDev/embedding-service/internal/db"
	"github.com/HanTheDev/embedding-service/internal/embed"
	"github.com/HanTheDev/embedding-service/internal/ratelimit"
	"github.com/HanTheDev/embedding-service/internal/server"
	"github.com/HanTheDev/embedding-service/internal/usage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	publicKey, privateKey, err := auth.ParseKeyPair(cfg.TokenPublicKey, cfg.TokenPrivateKey)
	if err != nil {
		logger.Fatal("failed to parse token keys", zap.Error(err))
	}

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	l2, err := cache.NewRedisCache(cfg.RedisURL, cfg.L2CacheTTL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer l2.Close()

	tieredCache := cache.New(cache.NewLRU(cfg.L1CacheSize), l2, cfg.CacheFillQueue, logger)
	defer tieredCache.Close()

	limiter, err := ratelimit.NewRateLimiter(cfg.RedisURL, database, logger)
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", zap.Error(err))
	}
	defer limiter.Close()

	validator := auth.NewValidator(publicKey, database, auth.ValidatorConfig{
		CacheSize:   cfg.KeyCacheSize,
		PositiveTTL: cfg.KeyCacheTTL,
		NegativeTTL: cfg.KeyCacheNegTTL,
	}, logger)

	recorder := usage.NewRecorder(database, cfg.UsageFlushEvery, cfg.UsageBufferLimit, logger)
	defer recorder.Close()

	embedder := embed.NewClient(cfg.EmbedServiceURL, cfg.ModelID, logger)

	srv := server.New(cfg, tieredCache, limiter, recorder, embedder, validator, logger)
	router := srv.Router()

	adminHandler := admin.NewAdminHandler(database, validator, privateKey, cfg.AdminSecret, logger)
	adminHandler.RegisterRoutes(router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(router)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
