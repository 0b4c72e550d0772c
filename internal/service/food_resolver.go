package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/nutrition"
	"github.com/timmy/nutrilens/internal/repository"
)

// FoodCatalog lists the nutrition catalog.
type FoodCatalog interface {
	List(ctx context.Context) ([]domain.Food, error)
}

// FoodVectorSearcher finds catalog entries by embedding similarity.
type FoodVectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, category string) ([]repository.SearchResult, error)
}

// FoodResolverOptions enables semantic matching when both Embedder and
// Vectors are set.
type FoodResolverOptions struct {
	Embedder Embedder
	Vectors  FoodVectorSearcher
	MinScore float32
}

// FoodResolver keeps an in-memory snapshot of the catalog and builds the
// lookup the aggregation engine consumes.
type FoodResolver struct {
	catalog  FoodCatalog
	embedder Embedder
	vectors  FoodVectorSearcher
	minScore float32

	mu         sync.RWMutex
	table      nutrition.Table
	byID       map[string]domain.Food
	categories map[string]domain.MealCategory
	loadedAt   time.Time
}

func NewFoodResolver(catalog FoodCatalog, opts FoodResolverOptions) *FoodResolver {
	return &FoodResolver{
		catalog:    catalog,
		embedder:   opts.Embedder,
		vectors:    opts.Vectors,
		minScore:   opts.MinScore,
		table:      nutrition.Table{},
		byID:       map[string]domain.Food{},
		categories: map[string]domain.MealCategory{},
	}
}

// Reload replaces the snapshot with the current catalog and returns its size.
func (r *FoodResolver) Reload(ctx context.Context) (int, error) {
	foods, err := r.catalog.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list foods: %w", err)
	}

	byID := make(map[string]domain.Food, len(foods))
	categories := make(map[string]domain.MealCategory, len(foods))
	for _, f := range foods {
		byID[f.ID] = f
		if f.Category == "" {
			continue
		}
		for _, alias := range f.Aliases {
			categories[domain.NormalizeFoodName(alias)] = f.Category
		}
		categories[domain.NormalizeFoodName(f.Name)] = f.Category
	}
	table := nutrition.NewTable(foods)

	r.mu.Lock()
	r.table, r.byID, r.categories = table, byID, categories
	r.loadedAt = time.Now()
	r.mu.Unlock()

	logger.With(logger.Fields{
		logger.FieldComponent: "food_resolver",
		logger.FieldCount:     len(foods),
	}).Info(ctx, "Food catalog loaded")
	return len(foods), nil
}

// Size returns the number of names and aliases in the snapshot.
func (r *FoodResolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

// CategoryOf reports the catalog category of a food name or alias.
func (r *FoodResolver) CategoryOf(name string) (domain.MealCategory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cat, ok := r.categories[domain.NormalizeFoodName(name)]
	return cat, ok
}

// LookupFor returns a lookup covering names. Names missing from the catalog
// are matched semantically when enabled; anything still unknown is left to
// the engine's generic density.
func (r *FoodResolver) LookupFor(ctx context.Context, names []string) nutrition.Lookup {
	r.mu.RLock()
	table, byID := r.table, r.byID
	r.mu.RUnlock()

	if r.embedder == nil || r.vectors == nil {
		return table
	}

	matched := nutrition.Table{}
	for _, name := range names {
		if _, ok := table.Lookup(name); ok {
			continue
		}
		food, score, ok := r.nearest(ctx, name, byID)
		if !ok {
			continue
		}
		matched.Put(name, nutrition.DensityOf(food))
		logger.CtxDebug(ctx, "Matched %q to catalog entry %q (score %.3f)", name, food.Name, score)
	}
	if len(matched) == 0 {
		return table
	}

	return nutrition.LookupFunc(func(name string) (nutrition.Density, bool) {
		if d, ok := table.Lookup(name); ok {
			return d, true
		}
		return matched.Lookup(name)
	})
}

func (r *FoodResolver) nearest(ctx context.Context, name string, byID map[string]domain.Food) (domain.Food, float32, bool) {
	vec, err := r.embedder.EmbedQuery(ctx, domain.NormalizeFoodName(name))
	if err != nil {
		logger.CtxWarn(ctx, "Embedding %q failed, using generic density: %v", name, err)
		return domain.Food{}, 0, false
	}
	results, err := r.vectors.Search(ctx, vec, 1, "")
	if err != nil {
		logger.CtxWarn(ctx, "Food vector search failed, using generic density: %v", err)
		return domain.Food{}, 0, false
	}
	if len(results) == 0 || results[0].Score < r.minScore || results[0].Payload == nil {
		return domain.Food{}, 0, false
	}
	food, ok := byID[results[0].Payload.FoodID]
	return food, results[0].Score, ok
}
