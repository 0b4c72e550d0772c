// Package app wires configuration into the repositories, adapters and
// services shared by the server and the maintenance CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"gorm.io/gorm"

	"github.com/timmy/nutrilens/internal/config"
	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/nutrition"
	"github.com/timmy/nutrilens/internal/repository"
	"github.com/timmy/nutrilens/internal/service"
	"github.com/timmy/nutrilens/internal/stage"
	"github.com/timmy/nutrilens/internal/storage"
)

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// App holds the long-lived components of one process.
type App struct {
	DB       *gorm.DB
	JobRepo  *repository.JobRepository
	FoodRepo *repository.FoodRepository
	Storage  storage.ObjectStorage // nil without object storage
	Resolver *service.FoodResolver
	Indexer  *service.FoodIndexService // nil unless semantic matching is on
	Jobs     *service.JobService

	closers []func() error
}

// Options adjust startup for the calling binary.
type Options struct {
	// SeedCatalog loads the YAML food catalog into the database before the
	// resolver snapshot is taken.
	SeedCatalog bool
}

// New builds every component from cfg. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{}
	if err := a.init(ctx, cfg, log, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) error {
	var err error
	a.DB, err = repository.InitDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	a.JobRepo = repository.NewJobRepository(a.DB)
	a.FoodRepo = repository.NewFoodRepository(a.DB)

	if cfg.Storage.Enabled() {
		a.Storage, err = storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	if err := a.initCatalog(ctx, cfg, log, opts); err != nil {
		return err
	}

	stages, err := a.buildStages(ctx, cfg)
	if err != nil {
		return err
	}

	a.Jobs = service.NewJobService(a.JobRepo, stages, a.Resolver, service.JobServiceConfig{
		Workers:                cfg.Pipeline.Workers,
		QueueSize:              cfg.Pipeline.QueueSize,
		PortionMode:            domain.PortionMode(cfg.Pipeline.PortionMode),
		MaxQuestions:           cfg.Pipeline.MaxQuestions,
		MaxClarificationRounds: cfg.Pipeline.MaxClarificationRounds,
		ConcurrentAdvice:       cfg.Pipeline.ConcurrentAdvice,
		SweepInterval:          cfg.Pipeline.SweepInterval,
		StaleAfter:             cfg.Pipeline.StaleAfter,
		ClaimTTL:               cfg.Pipeline.ClaimTTL,
		Aggregator:             nutrition.Aggregator{UnresolvedDowngradeRatio: cfg.Nutrition.UnresolvedDowngradeRatio},
	}, log)
	return nil
}

func (a *App) initCatalog(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) error {
	if opts.SeedCatalog && cfg.Nutrition.CatalogPath != "" {
		n, err := service.SeedCatalog(ctx, cfg.Nutrition.CatalogPath, a.FoodRepo)
		if err != nil {
			return fmt.Errorf("failed to seed food catalog: %w", err)
		}
		log.WithField(logger.FieldCount, n).Info("Food catalog seeded")
	}

	resolverOpts := service.FoodResolverOptions{MinScore: cfg.Nutrition.SemanticMinScore}
	if cfg.Nutrition.SemanticMatch {
		qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Qdrant repository: %w", err)
		}
		a.closers = append(a.closers, qdrantRepo.Close)

		embedder := service.NewEmbeddingService(&cfg.Embedding)
		resolverOpts.Embedder = embedder
		resolverOpts.Vectors = qdrantRepo
		a.Indexer = service.NewFoodIndexService(a.FoodRepo, qdrantRepo, embedder, &service.FoodIndexConfig{
			Collection: cfg.Qdrant.Collection,
			Workers:    cfg.Nutrition.IndexWorkers,
		})
	}

	a.Resolver = service.NewFoodResolver(a.FoodRepo, resolverOpts)
	if _, err := a.Resolver.Reload(ctx); err != nil {
		return err
	}
	if a.Resolver.Size() == 0 {
		log.Warn("Food catalog is empty; every item will use the generic density")
	}
	return nil
}

// RetryPolicy converts the inference section into a stage retry policy.
func RetryPolicy(cfg *config.InferenceConfig) stage.RetryPolicy {
	return stage.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialBackoff,
		MaxInterval:     cfg.MaxBackoff,
		Timeout:         cfg.Timeout,
	}
}

func (a *App) buildStages(ctx context.Context, cfg *config.Config) (service.Stages, error) {
	ic := &cfg.Inference
	policy := RetryPolicy(ic)

	var (
		llm     inference.Completer
		gen     inference.ImageGenerator
		fetcher stage.Fetcher
	)
	switch ic.Provider {
	case "openai":
		client := inference.NewOpenAIClient(inference.OpenAIConfig{
			BaseURL: ic.BaseURL,
			APIKey:  ic.APIKey,
			Timeout: ic.Timeout,
		})
		llm, gen, fetcher = client, client, client
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(ic.Bedrock.Region))
		if err != nil {
			return service.Stages{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		llm = inference.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), inference.BedrockOptions{})
		fetcher = inference.NewDownloader(ic.Timeout)
	default:
		return service.Stages{}, fmt.Errorf("unknown inference provider %q", ic.Provider)
	}

	images := &stage.StorageImageSource{
		Store:    a.Storage,
		Fetcher:  fetcher,
		Inline:   ic.InlineImages,
		MaxBytes: ic.MaxImageBytes,
		Retry:    policy,
	}

	stages := service.Stages{
		Recognizer: stage.NewRecognizer(llm, ic.Models.Recognition, images, stage.NewLexiconClassifier(a.Resolver), policy),
		Portions:   stage.NewPortionEstimator(llm, ic.Models.Portion, images, policy),
	}
	if ic.Models.Advisory != "" {
		stages.Advisor = stage.NewAdvisor(llm, ic.Models.Advisory, policy)
	}
	if ic.Models.Optimization != "" {
		stages.Optimizer = stage.NewOptimizer(llm, ic.Models.Optimization, policy)
	}
	if gen != nil && ic.Models.Image != "" {
		// Generated images are written to the bucket, so it has to exist.
		if b, ok := a.Storage.(bucketEnsurer); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				return service.Stages{}, fmt.Errorf("failed to prepare storage bucket: %w", err)
			}
		}
		stages.Media = stage.NewMediaGenerator(gen, fetcher, a.Storage, stage.MediaOptions{
			Model:  ic.Models.Image,
			Size:   ic.ImageSize,
			Prefix: cfg.Storage.GeneratedPrefix,
			Retry:  policy,
		})
	}
	return stages, nil
}

// PingContext checks the database connection.
func (a *App) PingContext(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
