package stage

import (
	"strings"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/prompts"
)

// CatalogCategories answers which category a known food belongs to.
type CatalogCategories interface {
	CategoryOf(name string) (domain.MealCategory, bool)
}

// CategoryClassifier guesses the category of a recognized item name.
// ok is false when the name gives no usable signal.
type CategoryClassifier interface {
	Classify(name string) (domain.MealCategory, bool)
}

// LexiconClassifier prefers the nutrition catalog and falls back to keyword lists.
type LexiconClassifier struct {
	catalog CatalogCategories
	words   map[string]domain.MealCategory
}

// NewLexiconClassifier builds a classifier; catalog may be nil.
func NewLexiconClassifier(catalog CatalogCategories) *LexiconClassifier {
	words := make(map[string]domain.MealCategory, len(prompts.BeverageWords)+len(prompts.DessertWords))
	for _, w := range prompts.DessertWords {
		words[w] = domain.MealCategoryDessert
	}
	for _, w := range prompts.BeverageWords {
		words[w] = domain.MealCategoryBeverage
	}
	return &LexiconClassifier{catalog: catalog, words: words}
}

// Classify implements CategoryClassifier.
//
// The trailing words of an English name carry its head noun ("coffee cake" is
// a cake), so suffix matches are tried before matches anywhere in the name.
func (c *LexiconClassifier) Classify(name string) (domain.MealCategory, bool) {
	norm := domain.NormalizeFoodName(name)
	if norm == "" {
		return "", false
	}
	if c.catalog != nil {
		if cat, ok := c.catalog.CategoryOf(norm); ok && cat != "" {
			return cat, true
		}
	}

	tokens := strings.Fields(norm)
	for i := range tokens {
		if cat, ok := c.words[strings.Join(tokens[i:], " ")]; ok {
			return cat, true
		}
	}
	for n := 2; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			if cat, ok := c.words[strings.Join(tokens[i:i+n], " ")]; ok {
				return cat, true
			}
		}
	}
	return "", false
}

// filterCategory keeps items whose category is unknown or matches want.
// It returns the kept items and the names that were dropped.
func filterCategory(items []domain.RecognizedItem, want domain.MealCategory, c CategoryClassifier) ([]domain.RecognizedItem, []string) {
	if c == nil {
		return items, nil
	}
	kept := make([]domain.RecognizedItem, 0, len(items))
	var dropped []string
	for _, item := range items {
		if cat, ok := c.Classify(item.Name); ok && cat != want {
			dropped = append(dropped, item.Name)
			continue
		}
		kept = append(kept, item)
	}
	return kept, dropped
}
