package service

import (
	"context"
	"fmt"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/nutrition"
)

// FoodWriter stores catalog entries.
type FoodWriter interface {
	Upsert(ctx context.Context, foods ...domain.Food) error
}

// SeedCatalog loads the YAML catalog at path into the food table.
// Existing rows with the same name are updated in place.
func SeedCatalog(ctx context.Context, path string, repo FoodWriter) (int, error) {
	foods, err := nutrition.LoadCatalog(path)
	if err != nil {
		return 0, err
	}
	if err := repo.Upsert(ctx, foods...); err != nil {
		return 0, fmt.Errorf("failed to store catalog: %w", err)
	}
	return len(foods), nil
}
