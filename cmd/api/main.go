package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/nutrilens/internal/api"
	"github.com/timmy/nutrilens/internal/api/handler"
	"github.com/timmy/nutrilens/internal/api/middleware"
	"github.com/timmy/nutrilens/internal/app"
	"github.com/timmy/nutrilens/internal/config"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/telemetry"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelCfg, err := telemetry.LoadConfig()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read telemetry config")
	}
	shutdownTelemetry, err := telemetry.Init(ctx, otelCfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize telemetry")
	}

	a, err := app.New(ctx, cfg, appLogger, app.Options{SeedCatalog: cfg.Nutrition.SeedOnStart})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	// Workers outlive request contexts; they stop with the process signal.
	a.Jobs.Start(ctx)

	var indexer handler.FoodIndexer
	if a.Indexer != nil {
		indexer = a.Indexer
	}
	router := api.SetupRouter(api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		AdminToken: cfg.Admin.Token,
		Logger:     appLogger,
		Jobs:       a.Jobs,
		Resumer:    a.Jobs,
		Catalog:    a.Resolver,
		Indexer:    indexer,
		DB:         a,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// In-flight steps are abandoned, not failed; the next start resumes them.
	a.Jobs.Stop()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Failed to flush telemetry")
	}

	appLogger.Info("Server exited")
}
