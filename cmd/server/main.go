package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pogo-tools/account-broker/internal/cache"
	"github.com/pogo-tools/account-broker/internal/config"
	"github.com/pogo-tools/account-broker/internal/database"
	"github.com/pogo-tools/account-broker/internal/handler"
	"github.com/pogo-tools/account-broker/internal/logger"
	"github.com/pogo-tools/account-broker/internal/middleware"
	"github.com/pogo-tools/account-broker/internal/service"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	log.Info().Str("addr", cfg.ServerAddr()).Msg("initializing account broker")

	if _, err := database.Init(cfg); err != nil {
		log.Fatal().Err(err).Msg("database initialization failed")
	}
	defer database.Close()

	if cfg.RedisConnString != "" {
		if _, err := cache.Init(cfg.RedisConnString); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, running without stats cache")
		}
	}
	defer cache.Close()

	if err := service.LoadAccountsFromFile("accounts.txt"); err != nil {
		log.Error().Err(err).Msg("account bootstrap failed")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.BasicAuth(cfg))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr()).Msg("start listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
