// Command server runs the chat gateway HTTP API.
//
// It loads configuration from the environment (optionally seeded from a .env
// file), opens the SQLite store, wires tracing, and serves the public API
// until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/startintellect/go-chat-gateway/internal/config"
	httpapi "github.com/startintellect/go-chat-gateway/internal/http"
	"github.com/startintellect/go-chat-gateway/internal/observability"
	"github.com/startintellect/go-chat-gateway/internal/repo"
	"github.com/startintellect/go-chat-gateway/internal/responder"
	"github.com/startintellect/go-chat-gateway/internal/sysutil"
	"github.com/startintellect/go-chat-gateway/internal/translate"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// @title           Chat Gateway API
// @version         1.0
// @description     Token-gated multi-flow chat gateway in front of a Flowise responder.
// @BasePath        /api/v1
func main() {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin")
		}
	}

	flowise := responder.New(cfg.Responder.BaseURL, cfg.Responder.APIKey, cfg.Responder.Timeout)

	target, err := language.Parse(cfg.Translate.TargetLang)
	if err != nil {
		log.Warn().Err(err).Str("lang", cfg.Translate.TargetLang).Msg("bad translate target, translation disabled")
		target = language.Und
	}
	translator := translate.New(cfg.Translate.URL, target, cfg.Translate.Timeout)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, flowise, translator, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
