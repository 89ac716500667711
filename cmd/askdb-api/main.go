package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/seed"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if cfg.Seed.AutoApply {
		script, err := app.SeedScript(cfg)
		if err != nil {
			logger.Error("failed to load seed script", slog.Any("error", err))
			os.Exit(1)
		}
		result, err := seed.Bootstrap(startupCtx, app.DatabaseConfig(cfg), script)
		if err != nil {
			logger.Error("failed to seed database", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("seed script processed",
			slog.String("script", result.Script),
			slog.Int("statements", result.Statements),
			slog.Bool("skipped", result.Skipped),
		)
	}

	db, dialect, err := app.OpenDatabase(startupCtx, cfg)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var reader app.SecretReader
	if cfg.AI.APIKey == "" {
		if store, err := app.OpenSecrets(cfg); err == nil {
			reader = store
		}
	}
	deps := assistant.Deps{
		DB:            db,
		Dialect:       dialect,
		SchemaOptions: schema.Options{SchemaName: cfg.Database.SchemaName},
		ReadOnly:      cfg.Query.ReadOnly,
		RowLimit:      cfg.Query.RowLimit,
		Logger:        logger,
	}
	translator, err := app.NewTranslator(startupCtx, cfg, dialect, reader)
	switch {
	case err == nil:
		deps.Translator = translator
	case errors.Is(err, app.ErrNoAPIKey):
		logger.Warn("no model API key configured; translation endpoints are disabled")
	default:
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}

	service, err := assistant.New(startupCtx, deps)
	if err != nil {
		logger.Error("failed to load database schema", slog.Any("error", err))
		os.Exit(1)
	}

	handlerDeps := api.Dependencies{
		Logger:    logger,
		Assistant: service,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(db),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Export.Upload {
		exporter, err := app.NewExporter(startupCtx, cfg)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		handlerDeps.Exporter = exporter
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		handlerDeps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, handlerDeps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", string(dialect)),
			slog.Int("tables", len(service.Schema().Tables)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
