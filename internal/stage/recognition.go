package stage

import (
	"context"
	"strings"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/prompts"
	"github.com/timmy/nutrilens/internal/sanitize"
)

type RecognitionInput struct {
	ImageRef string
	Category domain.MealCategory
}

type RecognitionOutput struct {
	Items            []domain.RecognizedItem
	CalorieRiskItems []string
	VisualNotes      []string
	// Dropped lists item names removed by the category filter.
	Dropped []string
}

type recognitionWire struct {
	Items *[]struct {
		Name         string   `json:"name"`
		Alternatives []string `json:"alternatives"`
		Confidence   string   `json:"confidence"`
		IsPackaged   bool     `json:"is_packaged"`
	} `json:"items"`
	CalorieRiskItems []string `json:"calorie_risk_items"`
	VisualNotes      []string `json:"visual_notes"`
}

// Recognizer identifies the foods of the requested category in a photo.
type Recognizer struct {
	caller
	images     ImageSource
	classifier CategoryClassifier
}

// NewRecognizer wires the recognition stage. classifier may be nil to disable
// the category post-filter.
func NewRecognizer(llm inference.Completer, model string, images ImageSource, classifier CategoryClassifier, policy RetryPolicy) *Recognizer {
	return &Recognizer{
		caller:     caller{stage: NameRecognition, llm: llm, model: model, retry: policy},
		images:     images,
		classifier: classifier,
	}
}

// Recognize returns the recognized items, already filtered by category.
func (r *Recognizer) Recognize(ctx context.Context, in RecognitionInput) (*RecognitionOutput, error) {
	if !in.Category.Valid() {
		return nil, &Failure{Stage: NameRecognition, Kind: ErrInvariant, Msg: "unknown meal category " + string(in.Category)}
	}

	img, err := r.images.Resolve(ctx, in.ImageRef)
	if err != nil {
		return nil, AsFailure(NameRecognition, err)
	}

	text, err := r.complete(ctx, inference.Request{
		System:    prompts.RecognitionSystemPrompt,
		Prompt:    prompts.RecognitionUserPrompt(string(in.Category)),
		Image:     img,
		MaxTokens: 1200,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}

	var wire recognitionWire
	if err := sanitize.Decode(text, &wire); err != nil {
		return nil, AsFailure(NameRecognition, err)
	}
	if wire.Items == nil {
		return nil, malformed(NameRecognition, "missing items")
	}

	items := make([]domain.RecognizedItem, 0, len(*wire.Items))
	for i, w := range *wire.Items {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return nil, malformed(NameRecognition, "item %d has no name", i)
		}
		conf, ok := domain.ParseConfidence(w.Confidence)
		if !ok {
			return nil, malformed(NameRecognition, "item %q has invalid confidence %q", name, w.Confidence)
		}
		alternatives := w.Alternatives
		if alternatives == nil {
			alternatives = []string{}
		}
		items = append(items, domain.RecognizedItem{
			Name:         name,
			Alternatives: alternatives,
			Confidence:   conf,
			IsPackaged:   w.IsPackaged,
		})
	}

	kept, dropped := filterCategory(items, in.Category, r.classifier)
	if len(dropped) > 0 {
		logger.CtxInfo(ctx, "Dropped %d items outside category %s: %v", len(dropped), in.Category, dropped)
	}

	return &RecognitionOutput{
		Items:            kept,
		CalorieRiskItems: nonNil(wire.CalorieRiskItems),
		VisualNotes:      nonNil(wire.VisualNotes),
		Dropped:          dropped,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
