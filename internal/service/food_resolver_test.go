package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/repository"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	batches [][]string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[query], nil
}

// nearestFood answers every search with one fixed hit.
type nearestFood struct {
	hit   repository.SearchResult
	err   error
	calls int
}

func (n *nearestFood) Search(context.Context, []float32, int, string) ([]repository.SearchResult, error) {
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	return []repository.SearchResult{n.hit}, nil
}

func loadedResolver(t *testing.T, opts FoodResolverOptions) *FoodResolver {
	t.Helper()
	r := NewFoodResolver(plateCatalog, opts)
	n, err := r.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return r
}

func TestFoodResolverExactAndAlias(t *testing.T) {
	r := loadedResolver(t, FoodResolverOptions{})
	lookup := r.LookupFor(context.Background(), []string{"Grilled  Chicken", "white rice", "tofu"})

	d, ok := lookup.Lookup("Grilled  Chicken")
	require.True(t, ok)
	assert.Equal(t, 1.625, d.Kcal)

	d, ok = lookup.Lookup("White Rice")
	require.True(t, ok)
	assert.Equal(t, 0.28, d.Carb)

	_, ok = lookup.Lookup("tofu")
	assert.False(t, ok)
	assert.Equal(t, 3, r.Size())
}

func TestFoodResolverCategoryOf(t *testing.T) {
	r := loadedResolver(t, FoodResolverOptions{})

	cat, ok := r.CategoryOf("WHITE RICE")
	assert.True(t, ok)
	assert.Equal(t, domain.MealCategoryDish, cat)

	_, ok = r.CategoryOf("cola")
	assert.False(t, ok)
}

func TestFoodResolverSemanticMatch(t *testing.T) {
	vectors := &nearestFood{hit: repository.SearchResult{
		Score:   0.91,
		Payload: &repository.FoodPayload{FoodID: "f-rice", Name: "rice"},
	}}
	r := loadedResolver(t, FoodResolverOptions{
		Embedder: &fakeEmbedder{vectors: map[string][]float32{"steamed jasmine rice": {1, 0}}},
		Vectors:  vectors,
		MinScore: 0.8,
	})

	lookup := r.LookupFor(context.Background(), []string{"grilled chicken", "Steamed Jasmine Rice"})

	d, ok := lookup.Lookup("steamed jasmine rice")
	require.True(t, ok)
	assert.Equal(t, 1.25, d.Kcal)
	_, ok = lookup.Lookup("grilled chicken")
	assert.True(t, ok)
	assert.Equal(t, 1, vectors.calls, "exact matches skip the vector search")
}

func TestFoodResolverSemanticFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		embedder *fakeEmbedder
		vectors  *nearestFood
	}{
		{
			name:     "score below threshold",
			embedder: &fakeEmbedder{},
			vectors:  &nearestFood{hit: repository.SearchResult{Score: 0.5, Payload: &repository.FoodPayload{FoodID: "f-rice"}}},
		},
		{
			name:     "unknown food id",
			embedder: &fakeEmbedder{},
			vectors:  &nearestFood{hit: repository.SearchResult{Score: 0.99, Payload: &repository.FoodPayload{FoodID: "gone"}}},
		},
		{
			name:     "embedding fails",
			embedder: &fakeEmbedder{err: errors.New("quota exceeded")},
			vectors:  &nearestFood{},
		},
		{
			name:     "search fails",
			embedder: &fakeEmbedder{},
			vectors:  &nearestFood{err: errors.New("connection refused")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := loadedResolver(t, FoodResolverOptions{Embedder: tc.embedder, Vectors: tc.vectors, MinScore: 0.8})
			lookup := r.LookupFor(context.Background(), []string{"mystery stew"})
			_, ok := lookup.Lookup("mystery stew")
			assert.False(t, ok)
		})
	}
}
