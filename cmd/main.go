package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nearme/backend/internal/api/handler"
	"nearme/backend/internal/auth"
	"nearme/backend/internal/chathub"
	"nearme/backend/internal/config"
	"nearme/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg.LogLevel)
	log.Info("starting nearme realtime backend", "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	s := storage.NewStorageService(db)
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	bus, err := setupBus(ctx, cfg, log)
	if err != nil {
		return err
	}

	hub := chathub.NewManagerService(s, bus, log)
	gate := auth.NewGate(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, s)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	handler.NewHandler(hub, gate, s, cfg, log).Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	// Hijacked websocket connections are not covered by server.Shutdown.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Error("hub shutdown", "err", err)
	}
	log.Info("stopped")
	return nil
}

// setupBus returns a Redis-relayed bus when REDIS_ADDR is set, otherwise an
// in-process one.
func setupBus(ctx context.Context, cfg config.Config, log *slog.Logger) (chathub.Bus, error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, presence events stay in-process")
		return chathub.NewLocalBus(log), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	bus := chathub.NewRedisBus(rdb, log)
	ready := make(chan struct{})
	go func() {
		if err := bus.Listen(ctx, ready); err != nil {
			log.Error("redis bus listener stopped", "err", err)
		}
	}()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, errors.New("redis bus subscription timed out")
	}
	return bus, nil
}
