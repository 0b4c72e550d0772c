package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/repository"
)

// ErrIndexRunning is returned when an indexing run is already in progress.
var ErrIndexRunning = errors.New("food index run already in progress")

// FoodVectorWriter stores catalog vectors.
type FoodVectorWriter interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.FoodPayload) error
}

// FoodIndexService embeds catalog names into the vector store used for
// semantic food matching.
type FoodIndexService struct {
	catalog    FoodCatalog
	vectors    FoodVectorWriter
	embedding  Embedder
	collection string
	workers    int
	batchSize  int

	running atomic.Bool
	mu      sync.Mutex
	last    *IndexStats
}

// FoodIndexConfig holds configuration for the food index service
type FoodIndexConfig struct {
	Collection string
	Workers    int
	BatchSize  int
}

// NewFoodIndexService creates a new food index service
func NewFoodIndexService(catalog FoodCatalog, vectors FoodVectorWriter, embedding Embedder, cfg *FoodIndexConfig) *FoodIndexService {
	workers, batchSize := cfg.Workers, cfg.BatchSize
	if workers <= 0 {
		workers = 2
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &FoodIndexService{
		catalog:    catalog,
		vectors:    vectors,
		embedding:  embedding,
		collection: cfg.Collection,
		workers:    workers,
		batchSize:  batchSize,
	}
}

// IndexStats holds statistics for an indexing run
type IndexStats struct {
	Running      bool      `json:"running"`
	TotalItems   int64     `json:"total_items"`
	IndexedItems int64     `json:"indexed_items"`
	FailedItems  int64     `json:"failed_items"`
	LastError    string    `json:"last_error,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitempty"`
}

// Status returns a copy of the current or last run's statistics, or nil
// when no run happened yet.
func (s *FoodIndexService) Status() *IndexStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return &IndexStats{
		Running:      s.running.Load(),
		TotalItems:   atomic.LoadInt64(&s.last.TotalItems),
		IndexedItems: atomic.LoadInt64(&s.last.IndexedItems),
		FailedItems:  atomic.LoadInt64(&s.last.FailedItems),
		LastError:    s.last.LastError,
		StartTime:    s.last.StartTime,
		EndTime:      s.last.EndTime,
	}
}

// IndexAll embeds every catalog entry. Point IDs are derived from the food
// name, so rerunning overwrites instead of duplicating.
func (s *FoodIndexService) IndexAll(ctx context.Context) (*IndexStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrIndexRunning
	}
	defer s.running.Store(false)

	stats := &IndexStats{StartTime: time.Now()}
	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	log := logger.With(logger.Fields{logger.FieldComponent: "food_index"})

	if err := s.vectors.EnsureCollection(ctx); err != nil {
		s.finish(stats, err)
		return stats, fmt.Errorf("failed to ensure collection: %w", err)
	}
	foods, err := s.catalog.List(ctx)
	if err != nil {
		s.finish(stats, err)
		return stats, fmt.Errorf("failed to list foods: %w", err)
	}
	atomic.StoreInt64(&stats.TotalItems, int64(len(foods)))
	log.With(logger.Fields{logger.FieldCount: len(foods)}).Info(ctx, "Starting food indexing")

	batches := make(chan []domain.Food, s.workers*2)
	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		lastErr error
	)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				if err := s.indexBatch(ctx, batch); err != nil {
					atomic.AddInt64(&stats.FailedItems, int64(len(batch)))
					errMu.Lock()
					lastErr = err
					errMu.Unlock()
					log.Error(ctx, "Failed to index batch of %d foods: %v", len(batch), err)
					continue
				}
				atomic.AddInt64(&stats.IndexedItems, int64(len(batch)))
			}
		}()
	}

feed:
	for start := 0; start < len(foods); start += s.batchSize {
		end := min(start+s.batchSize, len(foods))
		select {
		case batches <- foods[start:end]:
		case <-ctx.Done():
			break feed
		}
	}
	close(batches)
	wg.Wait()

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	s.finish(stats, lastErr)

	log.With(logger.Fields{
		"indexed": atomic.LoadInt64(&stats.IndexedItems),
		"failed":  atomic.LoadInt64(&stats.FailedItems),
	}).WithDuration(stats.StartTime).Info(ctx, "Food indexing completed")
	return stats, lastErr
}

func (s *FoodIndexService) finish(stats *IndexStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats.EndTime = time.Now()
	if err != nil {
		stats.LastError = err.Error()
	}
}

func (s *FoodIndexService) indexBatch(ctx context.Context, batch []domain.Food) error {
	texts := make([]string, len(batch))
	for i, f := range batch {
		texts[i] = embeddingText(f)
	}
	vectors, err := s.embedding.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed: %w", err)
	}

	for i, f := range batch {
		payload := &repository.FoodPayload{
			FoodID:   f.ID,
			Name:     f.Name,
			Category: string(f.Category),
		}
		if err := s.vectors.Upsert(ctx, generateDeterministicPointID(f.Name, s.collection), vectors[i], payload); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", f.Name, err)
		}
	}
	return nil
}

// embeddingText puts aliases next to the name so "steamed rice" and
// "white rice" land close together.
func embeddingText(f domain.Food) string {
	text := f.Name
	for _, a := range f.Aliases {
		text += "; " + a
	}
	return text
}

// generateDeterministicPointID derives the vector point ID from the food
// name and collection.
func generateDeterministicPointID(name, collection string) string {
	key := collection + ":" + domain.NormalizeFoodName(name)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
