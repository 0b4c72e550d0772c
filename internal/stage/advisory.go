package stage

import (
	"context"
	"strings"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/prompts"
	"github.com/timmy/nutrilens/internal/sanitize"
)

// MaxRecommendations caps practical_recommendations; extra entries are dropped.
const MaxRecommendations = 3

// MealContext is what the advisory and optimization stages see of a job.
type MealContext struct {
	Items     []domain.RecognizedItem
	Nutrition *domain.NutritionResult
	Profile   domain.Profile
}

func (m MealContext) prompt() string {
	names := make([]string, 0, len(m.Items))
	for _, it := range m.Items {
		names = append(names, it.Name)
	}
	n := m.Nutrition
	return prompts.MealSummaryPrompt(names,
		n.Calories.Central, n.Calories.Min, n.Calories.Max,
		n.Macros.ProteinG, n.Macros.CarbG, n.Macros.FatG, n.Macros.FiberG,
		string(n.OverallConfidence), ProfileSummary(m.Profile))
}

type advisoryWire struct {
	Benefits                 *[]string `json:"benefits"`
	Concerns                 *[]string `json:"concerns"`
	PracticalRecommendations *[]string `json:"practical_recommendations"`
	Disclaimer               string    `json:"disclaimer"`
}

// Advisor produces health feedback for an analyzed meal.
type Advisor struct {
	caller
}

func NewAdvisor(llm inference.Completer, model string, policy RetryPolicy) *Advisor {
	return &Advisor{caller: caller{stage: NameAdvisory, llm: llm, model: model, retry: policy}}
}

// Advise returns an available advisory or a Failure. Callers that treat the
// stage as best effort turn the failure into UnavailableAdvisory.
func (a *Advisor) Advise(ctx context.Context, meal MealContext) (*domain.Advisory, error) {
	if meal.Nutrition == nil {
		return nil, &Failure{Stage: NameAdvisory, Kind: ErrInvariant, Msg: "nutrition is required"}
	}

	text, err := a.complete(ctx, inference.Request{
		System:    prompts.AdvisorySystemPrompt,
		Prompt:    meal.prompt(),
		MaxTokens: 800,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}

	var wire advisoryWire
	if err := sanitize.Decode(text, &wire); err != nil {
		return nil, AsFailure(NameAdvisory, err)
	}
	if wire.Benefits == nil || wire.Concerns == nil || wire.PracticalRecommendations == nil {
		return nil, malformed(NameAdvisory, "benefits, concerns and practical_recommendations are required")
	}

	recs := *wire.PracticalRecommendations
	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	disclaimer := strings.TrimSpace(wire.Disclaimer)
	if disclaimer == "" {
		disclaimer = prompts.DefaultDisclaimer
	}

	return &domain.Advisory{
		Status:                   domain.OutputAvailable,
		Benefits:                 *wire.Benefits,
		Concerns:                 *wire.Concerns,
		PracticalRecommendations: recs,
		Disclaimer:               disclaimer,
	}, nil
}

// UnavailableAdvisory is the placeholder stored when the stage fails.
func UnavailableAdvisory(reason string) *domain.Advisory {
	return &domain.Advisory{
		Status:                   domain.OutputUnavailable,
		Reason:                   reason,
		Benefits:                 []string{},
		Concerns:                 []string{},
		PracticalRecommendations: []string{},
		Disclaimer:               prompts.DefaultDisclaimer,
	}
}
