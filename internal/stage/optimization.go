package stage

import (
	"context"
	"strings"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/prompts"
	"github.com/timmy/nutrilens/internal/sanitize"
)

// UnavailableDescription is shown in place of a suggestion the stage could not produce.
const UnavailableDescription = "Could not generate suggestion"

type optimizationWire struct {
	ImprovedDescription string               `json:"improved_description"`
	SuggestedChanges    *[]string            `json:"suggested_changes"`
	NewCalories         *domain.CalorieRange `json:"new_calories"`
	NewMacros           *domain.Macros       `json:"new_macros"`
	ImagePrompt         string               `json:"image_prompt"`
}

// Optimizer proposes a healthier variant of an analyzed meal.
type Optimizer struct {
	caller
}

func NewOptimizer(llm inference.Completer, model string, policy RetryPolicy) *Optimizer {
	return &Optimizer{caller: caller{stage: NameOptimization, llm: llm, model: model, retry: policy}}
}

// Optimize returns an available suggestion or a Failure.
func (o *Optimizer) Optimize(ctx context.Context, meal MealContext) (*domain.OptimizedMeal, error) {
	if meal.Nutrition == nil {
		return nil, &Failure{Stage: NameOptimization, Kind: ErrInvariant, Msg: "nutrition is required"}
	}

	text, err := o.complete(ctx, inference.Request{
		System:    prompts.OptimizationSystemPrompt,
		Prompt:    meal.prompt(),
		MaxTokens: 1000,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}

	var wire optimizationWire
	if err := sanitize.Decode(text, &wire); err != nil {
		return nil, AsFailure(NameOptimization, err)
	}

	desc := strings.TrimSpace(wire.ImprovedDescription)
	switch {
	case desc == "":
		return nil, malformed(NameOptimization, "missing improved_description")
	case wire.SuggestedChanges == nil:
		return nil, malformed(NameOptimization, "missing suggested_changes")
	case wire.NewCalories == nil || wire.NewMacros == nil:
		return nil, malformed(NameOptimization, "missing new_calories or new_macros")
	}
	kcal := *wire.NewCalories
	if kcal.Min < 0 || kcal.Min > kcal.Central || kcal.Central > kcal.Max {
		return nil, malformed(NameOptimization, "inconsistent new_calories %g <= %g <= %g", kcal.Min, kcal.Central, kcal.Max)
	}

	return &domain.OptimizedMeal{
		Status:              domain.OutputAvailable,
		ImprovedDescription: desc,
		SuggestedChanges:    *wire.SuggestedChanges,
		NewCalories:         kcal,
		NewMacros:           *wire.NewMacros,
		ImagePrompt:         strings.TrimSpace(wire.ImagePrompt),
	}, nil
}

// UnavailableOptimization echoes the current meal's numbers so clients can
// still render a comparison.
func UnavailableOptimization(reason string, current *domain.NutritionResult) *domain.OptimizedMeal {
	out := &domain.OptimizedMeal{
		Status:              domain.OutputUnavailable,
		Reason:              reason,
		ImprovedDescription: UnavailableDescription,
		SuggestedChanges:    []string{},
	}
	if current != nil {
		out.NewCalories = current.Calories
		out.NewMacros = current.Macros
	}
	return out
}
