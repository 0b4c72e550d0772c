package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/prompts"
	"github.com/timmy/nutrilens/internal/sanitize"
)

// In autonomous mode unanswered uncertainty widens the range of every item
// that is not high confidence by these factors.
const (
	AutonomousWidenMin = 0.85
	AutonomousWidenMax = 1.15
)

type PortionInput struct {
	ImageRef     string
	Items        []domain.RecognizedItem
	VisualNotes  []string
	Profile      domain.Profile
	Mode         domain.PortionMode
	MaxQuestions int
	// Questions and Answers are set on a re-estimation after clarification.
	Questions []domain.Question
	Answers   map[string]string
}

type PortionOutput struct {
	Portions         []domain.Portion
	Questions        []domain.Question
	UncertaintyNotes []string
}

type portionWire struct {
	Portions *[]struct {
		Item       string   `json:"item"`
		CentralQty *float64 `json:"central_qty"`
		MinQty     *float64 `json:"min_qty"`
		MaxQty     *float64 `json:"max_qty"`
		Confidence string   `json:"confidence"`
	} `json:"portions"`
	Questions []struct {
		ID      string   `json:"id"`
		Prompt  string   `json:"prompt"`
		Options []string `json:"options"`
	} `json:"questions"`
	UncertaintyNotes []string `json:"uncertainty_notes"`
}

// PortionEstimator turns recognized items into quantity ranges.
type PortionEstimator struct {
	caller
	images ImageSource
}

func NewPortionEstimator(llm inference.Completer, model string, images ImageSource, policy RetryPolicy) *PortionEstimator {
	return &PortionEstimator{
		caller: caller{stage: NamePortion, llm: llm, model: model, retry: policy},
		images: images,
	}
}

// Estimate returns portions and, in interactive mode, optional questions.
// In autonomous mode the question list is always empty.
func (p *PortionEstimator) Estimate(ctx context.Context, in PortionInput) (*PortionOutput, error) {
	if len(in.Items) == 0 {
		return nil, &Failure{Stage: NamePortion, Kind: ErrInvariant, Msg: "no items to estimate"}
	}

	img, err := p.images.Resolve(ctx, in.ImageRef)
	if err != nil {
		return nil, AsFailure(NamePortion, err)
	}

	text, err := p.complete(ctx, inference.Request{
		System:    prompts.PortionSystemPrompt,
		Prompt:    prompts.PortionUserPrompt(p.promptInput(in)),
		Image:     img,
		MaxTokens: 1500,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}

	var wire portionWire
	if err := sanitize.Decode(text, &wire); err != nil {
		return nil, AsFailure(NamePortion, err)
	}
	out, err := validatePortions(wire)
	if err != nil {
		return nil, err
	}

	if in.Mode == domain.PortionModeAutonomous && len(out.Questions) > 0 {
		absorbQuestions(out)
	}
	return out, nil
}

func (p *PortionEstimator) promptInput(in PortionInput) prompts.PortionInput {
	pi := prompts.PortionInput{
		VisualNotes:  in.VisualNotes,
		Profile:      ProfileSummary(in.Profile),
		Interactive:  in.Mode == domain.PortionModeInteractive,
		MaxQuestions: in.MaxQuestions,
	}
	for _, item := range in.Items {
		pi.Items = append(pi.Items, item.Name)
		if item.IsPackaged {
			pi.Packaged = append(pi.Packaged, item.Name)
		}
	}

	if len(in.Answers) > 0 {
		prompt := make(map[string]string, len(in.Questions))
		for _, q := range in.Questions {
			prompt[q.ID] = q.Prompt
		}
		ids := make([]string, 0, len(in.Answers))
		for id := range in.Answers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			q := prompt[id]
			if q == "" {
				q = id
			}
			pi.Answers = append(pi.Answers, fmt.Sprintf("%s -> %s", q, in.Answers[id]))
		}
	}
	return pi
}

func validatePortions(wire portionWire) (*PortionOutput, error) {
	if wire.Portions == nil || len(*wire.Portions) == 0 {
		return nil, malformed(NamePortion, "missing portions")
	}

	out := &PortionOutput{
		Portions:         make([]domain.Portion, 0, len(*wire.Portions)),
		Questions:        []domain.Question{},
		UncertaintyNotes: nonNil(wire.UncertaintyNotes),
	}

	for i, w := range *wire.Portions {
		item := strings.TrimSpace(w.Item)
		if item == "" {
			return nil, malformed(NamePortion, "portion %d has no item", i)
		}
		if w.CentralQty == nil || w.MinQty == nil || w.MaxQty == nil {
			return nil, malformed(NamePortion, "portion %q is missing a quantity", item)
		}
		central, lo, hi := *w.CentralQty, *w.MinQty, *w.MaxQty
		if lo < 0 || lo > central || central > hi {
			return nil, malformed(NamePortion, "portion %q has inconsistent range %g <= %g <= %g", item, lo, central, hi)
		}
		conf, ok := domain.ParseConfidence(w.Confidence)
		if !ok {
			return nil, malformed(NamePortion, "portion %q has invalid confidence %q", item, w.Confidence)
		}
		out.Portions = append(out.Portions, domain.Portion{
			Item:       item,
			CentralQty: central,
			MinQty:     lo,
			MaxQty:     hi,
			Confidence: conf,
		})
	}

	seen := make(map[string]bool, len(wire.Questions))
	for i, w := range wire.Questions {
		id, prompt := strings.TrimSpace(w.ID), strings.TrimSpace(w.Prompt)
		if id == "" || prompt == "" {
			return nil, malformed(NamePortion, "question %d needs an id and a prompt", i)
		}
		if seen[id] {
			return nil, malformed(NamePortion, "duplicate question id %q", id)
		}
		seen[id] = true
		out.Questions = append(out.Questions, domain.Question{ID: id, Prompt: prompt, Options: nonNil(w.Options)})
	}

	return out, nil
}

// absorbQuestions replaces questions nobody will answer with wider ranges and
// a note per question.
func absorbQuestions(out *PortionOutput) {
	for _, q := range out.Questions {
		out.UncertaintyNotes = append(out.UncertaintyNotes, "not asked: "+q.Prompt)
	}
	out.Questions = []domain.Question{}

	for i := range out.Portions {
		p := &out.Portions[i]
		if p.Confidence == domain.ConfidenceHigh {
			continue
		}
		p.MinQty *= AutonomousWidenMin
		p.MaxQty *= AutonomousWidenMax
	}
}

// ProfileSummary renders a profile as one prompt line; empty when there is none.
func ProfileSummary(p domain.Profile) string {
	if p.IsEmpty() {
		return ""
	}
	var parts []string
	if p.Objective != "" {
		parts = append(parts, "objective: "+p.Objective)
	}
	if len(p.DietaryRestrictions) > 0 {
		parts = append(parts, "restrictions: "+strings.Join(p.DietaryRestrictions, ", "))
	}
	if len(p.Allergies) > 0 {
		parts = append(parts, "allergies: "+strings.Join(p.Allergies, ", "))
	}
	return strings.Join(parts, "; ")
}
