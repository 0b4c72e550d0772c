// Package nutrition aggregates per-item portion estimates into a meal total.
//
// Aggregation is pure: the same portions and lookup always produce the same
// result. Lookups are resolved before aggregation and passed in as a snapshot.
package nutrition

import (
	"fmt"
	"math"

	"github.com/timmy/nutrilens/internal/domain"
)

// Density is the nutrient content of one gram (or millilitre) of a food.
type Density struct {
	Kcal    float64
	Protein float64
	Carb    float64
	Fat     float64
	Fiber   float64
}

func (d Density) scale(qty float64) (float64, domain.Macros) {
	return d.Kcal * qty, domain.Macros{
		ProteinG: d.Protein * qty,
		CarbG:    d.Carb * qty,
		FatG:     d.Fat * qty,
		FiberG:   d.Fiber * qty,
	}
}

// GenericDensity is used for items the lookup cannot resolve. It approximates a
// mixed cooked dish.
var GenericDensity = Density{Kcal: 1.5, Protein: 0.08, Carb: 0.20, Fat: 0.05, Fiber: 0.02}

// Bounds of an unresolved item are widened by these factors. They stack with
// the quantity range: the item's minimum is GenericDensity at MinQty times
// FallbackMinFactor, and its maximum is GenericDensity at MaxQty times
// FallbackMaxFactor.
const (
	FallbackMinFactor = 0.7
	FallbackMaxFactor = 1.3
)

// DefaultUnresolvedDowngradeRatio is the share of unresolved items above which
// the overall confidence drops one level.
const DefaultUnresolvedDowngradeRatio = 0.5

// Lookup resolves a food name to its density.
type Lookup interface {
	Lookup(name string) (Density, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(name string) (Density, bool)

func (f LookupFunc) Lookup(name string) (Density, bool) { return f(name) }

// Aggregator holds the tunable policy of Aggregate.
type Aggregator struct {
	// UnresolvedDowngradeRatio: when unresolved/total exceeds it, overall
	// confidence is lowered one level. 1 disables the downgrade.
	UnresolvedDowngradeRatio float64
}

// Aggregate runs the default Aggregator.
func Aggregate(portions []domain.Portion, lookup Lookup) *domain.NutritionResult {
	return Aggregator{UnresolvedDowngradeRatio: DefaultUnresolvedDowngradeRatio}.Aggregate(portions, lookup)
}

// Aggregate sums the portions into a NutritionResult. Meal calories are
// rounded to whole units; per-item calories and all macros keep one decimal.
func (a Aggregator) Aggregate(portions []domain.Portion, lookup Lookup) *domain.NutritionResult {
	result := &domain.NutritionResult{
		PerItemBreakdown: make([]domain.ItemNutrition, 0, len(portions)),
		Caveats:          []string{},
	}

	var central, low, high float64
	var macros domain.Macros
	unresolved := 0
	confidences := make([]domain.Confidence, 0, len(portions))

	for _, p := range portions {
		density, ok := lookup.Lookup(p.Item)
		if !ok {
			density = GenericDensity
			unresolved++
		}

		kcal, m := density.scale(p.CentralQty)
		kcalMin, _ := density.scale(p.MinQty)
		kcalMax, _ := density.scale(p.MaxQty)
		if !ok {
			kcalMin *= FallbackMinFactor
			kcalMax *= FallbackMaxFactor
			result.Caveats = append(result.Caveats, fmt.Sprintf("%s: item not found, using generic estimate", p.Item))
		}

		central += kcal
		low += kcalMin
		high += kcalMax
		macros.ProteinG += m.ProteinG
		macros.CarbG += m.CarbG
		macros.FatG += m.FatG
		macros.FiberG += m.FiberG
		confidences = append(confidences, p.Confidence)

		result.PerItemBreakdown = append(result.PerItemBreakdown, domain.ItemNutrition{
			Item:     p.Item,
			Quantity: p.CentralQty,
			Calories: domain.CalorieRange{
				Central: round1(kcal),
				Min:     round1(kcalMin),
				Max:     round1(kcalMax),
			},
			Macros:     roundMacros(m),
			Confidence: p.Confidence,
			Resolved:   ok,
		})
	}

	result.Calories = domain.CalorieRange{
		Central: math.Round(central),
		Min:     math.Round(low),
		Max:     math.Round(high),
	}
	result.Macros = roundMacros(macros)
	result.OverallConfidence = rollup(confidences)

	if len(portions) == 0 {
		result.Caveats = append(result.Caveats, "no portions to aggregate")
	} else if float64(unresolved)/float64(len(portions)) > a.UnresolvedDowngradeRatio {
		result.OverallConfidence = result.OverallConfidence.Lower()
		result.Caveats = append(result.Caveats,
			fmt.Sprintf("%d of %d items used generic estimates", unresolved, len(portions)))
	}

	return result
}

// rollup returns low when more than half the items are low, high when more
// than half are high, and medium otherwise (including ties).
func rollup(cs []domain.Confidence) domain.Confidence {
	var lowCount, highCount int
	for _, c := range cs {
		switch c {
		case domain.ConfidenceLow:
			lowCount++
		case domain.ConfidenceHigh:
			highCount++
		}
	}
	half := float64(len(cs)) / 2
	switch {
	case float64(lowCount) > half:
		return domain.ConfidenceLow
	case float64(highCount) > half:
		return domain.ConfidenceHigh
	default:
		return domain.ConfidenceMedium
	}
}

func roundMacros(m domain.Macros) domain.Macros {
	return domain.Macros{
		ProteinG: round1(m.ProteinG),
		CarbG:    round1(m.CarbG),
		FatG:     round1(m.FatG),
		FiberG:   round1(m.FiberG),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
