package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/prompts"
)

func plateMeal() MealContext {
	return MealContext{
		Items: plateItems,
		Nutrition: &domain.NutritionResult{
			Calories:          domain.CalorieRange{Central: 394, Min: 320, Max: 480},
			Macros:            domain.Macros{ProteinG: 49.9, CarbG: 33.6, FatG: 9.7, FiberG: 0.6},
			OverallConfidence: domain.ConfidenceMedium,
		},
		Profile: domain.Profile{Objective: "muscle_gain"},
	}
}

func TestAdviseTruncatesRecommendations(t *testing.T) {
	llm := answers(`{"benefits": ["lean protein"], "concerns": [], "practical_recommendations": ["a", "b", "c", "d"]}`)
	a := NewAdvisor(llm, "text-1", fastRetry())

	adv, err := a.Advise(context.Background(), plateMeal())
	require.NoError(t, err)

	assert.Equal(t, domain.OutputAvailable, adv.Status)
	assert.Equal(t, []string{"a", "b", "c"}, adv.PracticalRecommendations)
	assert.Equal(t, prompts.DefaultDisclaimer, adv.Disclaimer)
	assert.Nil(t, llm.calls[0].Image)
	assert.Contains(t, llm.calls[0].Prompt, "394 kcal")
	assert.Contains(t, llm.calls[0].Prompt, "objective: muscle_gain")
}

func TestAdviseMissingFieldIsMalformed(t *testing.T) {
	a := NewAdvisor(answers(`{"benefits": [], "concerns": []}`), "m", fastRetry())

	_, err := a.Advise(context.Background(), plateMeal())
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestAdviseTransportFailure(t *testing.T) {
	llm := failing(&inference.StatusError{Provider: "fake", StatusCode: 429})
	a := NewAdvisor(llm, "m", fastRetry())

	_, err := a.Advise(context.Background(), plateMeal())
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 3, llm.count())
}

func TestOptimize(t *testing.T) {
	llm := answers(`{
		"improved_description": "Grilled chicken with brown rice and greens",
		"suggested_changes": ["swap white rice for brown rice", "add greens"],
		"new_calories": {"central": 380, "min": 330, "max": 430},
		"new_macros": {"protein_g": 50, "carb_g": 30, "fat_g": 8, "fiber_g": 6},
		"image_prompt": "chicken, brown rice and salad on a white plate"
	}`)
	o := NewOptimizer(llm, "m", fastRetry())

	opt, err := o.Optimize(context.Background(), plateMeal())
	require.NoError(t, err)
	assert.Equal(t, domain.OutputAvailable, opt.Status)
	assert.Equal(t, 380.0, opt.NewCalories.Central)
	assert.Equal(t, 6.0, opt.NewMacros.FiberG)
	assert.Len(t, opt.SuggestedChanges, 2)
}

func TestOptimizeRejectsInconsistentCalories(t *testing.T) {
	o := NewOptimizer(answers(`{
		"improved_description": "x", "suggested_changes": [],
		"new_calories": {"central": 500, "min": 100, "max": 200},
		"new_macros": {"protein_g": 1, "carb_g": 1, "fat_g": 1, "fiber_g": 1}
	}`), "m", fastRetry())

	_, err := o.Optimize(context.Background(), plateMeal())
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestUnavailableDefaults(t *testing.T) {
	meal := plateMeal()

	opt := UnavailableOptimization("timeout", meal.Nutrition)
	assert.Equal(t, domain.OutputUnavailable, opt.Status)
	assert.Equal(t, UnavailableDescription, opt.ImprovedDescription)
	assert.Equal(t, meal.Nutrition.Calories, opt.NewCalories)
	assert.Equal(t, meal.Nutrition.Macros, opt.NewMacros)

	adv := UnavailableAdvisory("timeout")
	assert.Equal(t, domain.OutputUnavailable, adv.Status)
	assert.Equal(t, []string{}, adv.PracticalRecommendations)
	assert.NotEmpty(t, adv.Disclaimer)
}
