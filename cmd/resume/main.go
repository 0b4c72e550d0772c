package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/nutrilens/internal/app"
	"github.com/timmy/nutrilens/internal/config"
	"github.com/timmy/nutrilens/internal/logger"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "nutrilens-resume",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	limit := flag.Int("limit", 0, "Maximum number of jobs to resume (0 means all)")
	seedFoods := flag.Bool("seed-foods", false, "Load the YAML food catalog into the database first")
	indexFoods := flag.Bool("index-foods", false, "Embed the food catalog into the vector store")
	dryRun := flag.Bool("dry-run", false, "Only report job counts per status")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, appLogger, app.Options{SeedCatalog: *seedFoods})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *dryRun {
		counts, err := a.JobRepo.CountByStatus(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to count jobs")
		}
		fields := logger.Fields{}
		for status, n := range counts {
			fields[string(status)] = n
		}
		foods, err := a.FoodRepo.Count(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to count foods")
		}
		fields["foods"] = foods
		appLogger.WithFields(fields).Info("Dry run")
		return
	}

	if *indexFoods {
		if a.Indexer == nil {
			appLogger.Fatal("Semantic food matching is disabled; set nutrition.semantic_match")
		}
		stats, err := a.Indexer.IndexAll(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Food indexing failed")
		}
		appLogger.WithFields(logger.Fields{
			"total":   stats.TotalItems,
			"indexed": stats.IndexedItems,
			"failed":  stats.FailedItems,
		}).Info("Food indexing completed")
	}

	stats, err := a.Jobs.ResumeInterrupted(ctx, *limit)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to resume jobs")
	}
	appLogger.WithFields(logger.Fields{
		"found":   stats.Found,
		"done":    stats.Done,
		"waiting": stats.Waiting,
		"failed":  stats.Failed,
		"errors":  stats.Errors,
	}).Info("Resume completed")
}
