package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/nutrilens/internal/domain"
)

// FoodRepository handles nutrition catalog rows.
type FoodRepository struct {
	db *gorm.DB
}

func NewFoodRepository(db *gorm.DB) *FoodRepository {
	return &FoodRepository{db: db}
}

// Upsert creates or updates foods keyed by name. Names are normalized and
// missing IDs are derived from the name so reseeding is idempotent.
func (r *FoodRepository) Upsert(ctx context.Context, foods ...domain.Food) error {
	if len(foods) == 0 {
		return nil
	}
	for i := range foods {
		foods[i].Name = domain.NormalizeFoodName(foods[i].Name)
		if foods[i].ID == "" {
			foods[i].ID = FoodID(foods[i].Name)
		}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"aliases", "category",
			"kcal_per_gram", "protein_per_gram", "carb_per_gram", "fat_per_gram", "fiber_per_gram",
			"source", "updated_at",
		}),
	}).CreateInBatches(foods, 100).Error
}

// List returns the whole catalog ordered by name.
func (r *FoodRepository) List(ctx context.Context) ([]domain.Food, error) {
	var foods []domain.Food
	err := r.db.WithContext(ctx).Order("name ASC").Find(&foods).Error
	return foods, err
}

// GetByName looks a food up by normalized name.
func (r *FoodRepository) GetByName(ctx context.Context, name string) (*domain.Food, error) {
	var food domain.Food
	err := r.db.WithContext(ctx).First(&food, "name = ?", domain.NormalizeFoodName(name)).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &food, nil
}

func (r *FoodRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Food{}).Count(&n).Error
	return n, err
}

var foodNamespace = uuid.MustParse("5b0c3f1e-8d7a-4c36-9a51-2f6e0b9d4c17")

// FoodID is the stable identifier of a catalog entry. It doubles as the
// vector point ID so reindexing overwrites instead of duplicating.
func FoodID(name string) string {
	return uuid.NewSHA1(foodNamespace, []byte(domain.NormalizeFoodName(name))).String()
}
