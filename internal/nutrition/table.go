package nutrition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/timmy/nutrilens/internal/domain"
)

// Table is an in-memory Lookup keyed by normalized food name.
type Table map[string]Density

// Lookup implements Lookup.
func (t Table) Lookup(name string) (Density, bool) {
	d, ok := t[domain.NormalizeFoodName(name)]
	return d, ok
}

// Put stores d under name and returns t for chaining.
func (t Table) Put(name string, d Density) Table {
	t[domain.NormalizeFoodName(name)] = d
	return t
}

// DensityOf extracts the density of a catalog entry.
func DensityOf(f domain.Food) Density {
	return Density{
		Kcal:    f.KcalPerGram,
		Protein: f.ProteinPerGram,
		Carb:    f.CarbPerGram,
		Fat:     f.FatPerGram,
		Fiber:   f.FiberPerGram,
	}
}

// NewTable indexes foods by name and by every alias. A name wins over an
// alias of another food.
func NewTable(foods []domain.Food) Table {
	t := make(Table, len(foods))
	for _, f := range foods {
		for _, alias := range f.Aliases {
			key := domain.NormalizeFoodName(alias)
			if _, exists := t[key]; !exists {
				t[key] = DensityOf(f)
			}
		}
	}
	for _, f := range foods {
		t.Put(f.Name, DensityOf(f))
	}
	return t
}

// catalogFile is the YAML layout of the food catalog.
type catalogFile struct {
	Source string `yaml:"source"`
	Foods  []struct {
		Name     string   `yaml:"name"`
		Aliases  []string `yaml:"aliases"`
		Category string   `yaml:"category"`
		Per100g  struct {
			Kcal    float64 `yaml:"kcal"`
			Protein float64 `yaml:"protein"`
			Carb    float64 `yaml:"carb"`
			Fat     float64 `yaml:"fat"`
			Fiber   float64 `yaml:"fiber"`
		} `yaml:"per_100g"`
	} `yaml:"foods"`
}

// ParseCatalog decodes a YAML catalog. Values in the file are per 100 g, the
// usual label unit, and are converted to per gram.
func ParseCatalog(data []byte) ([]domain.Food, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse food catalog: %w", err)
	}

	foods := make([]domain.Food, 0, len(file.Foods))
	seen := make(map[string]bool, len(file.Foods))
	for i, entry := range file.Foods {
		name := domain.NormalizeFoodName(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("food catalog entry %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("food catalog entry %d: duplicate name %q", i, name)
		}
		seen[name] = true

		category := domain.MealCategory(entry.Category)
		if category != "" && !category.Valid() {
			return nil, fmt.Errorf("food %q: unknown category %q", name, entry.Category)
		}
		per := entry.Per100g
		if per.Kcal < 0 || per.Protein < 0 || per.Carb < 0 || per.Fat < 0 || per.Fiber < 0 {
			return nil, fmt.Errorf("food %q: negative nutrient value", name)
		}

		aliases := make(domain.StringArray, 0, len(entry.Aliases))
		for _, a := range entry.Aliases {
			if a = domain.NormalizeFoodName(a); a != "" {
				aliases = append(aliases, a)
			}
		}

		foods = append(foods, domain.Food{
			Name:           name,
			Aliases:        aliases,
			Category:       category,
			KcalPerGram:    per.Kcal / 100,
			ProteinPerGram: per.Protein / 100,
			CarbPerGram:    per.Carb / 100,
			FatPerGram:     per.Fat / 100,
			FiberPerGram:   per.Fiber / 100,
			Source:         file.Source,
		})
	}
	return foods, nil
}

// LoadCatalog reads and parses the YAML catalog at path.
func LoadCatalog(path string) ([]domain.Food, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read food catalog: %w", err)
	}
	return ParseCatalog(data)
}
