package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Shared Lexicons
// ============================================================================

// BeverageWords are name fragments that mark an item as a drink. Used by the
// recognition prompt and the category post-filter.
var BeverageWords = []string{
	"juice", "soda", "coffee", "espresso", "latte", "cappuccino", "tea", "milk",
	"smoothie", "shake", "water", "beer", "wine", "cocktail", "lemonade", "kombucha",
	"drink", "refrigerante", "suco", "cafe", "cha", "cerveja", "vinho",
}

// DessertWords are name fragments that mark an item as a dessert.
var DessertWords = []string{
	"cake", "pie", "tart", "ice cream", "gelato", "pudding", "mousse", "brownie",
	"cookie", "chocolate", "candy", "donut", "doughnut", "cupcake", "cheesecake",
	"brigadeiro", "pudim", "sorvete", "bolo", "torta", "doce", "flan", "macaron",
}

// CategoryDescriptions explain each meal category to the recognition model.
var CategoryDescriptions = map[string]string{
	"dish":     "savory food eaten as a meal: mains, sides, salads, soups, breads",
	"dessert":  "sweets eaten after a meal: cakes, pies, ice cream, puddings, candy",
	"beverage": "anything drunk from a glass, cup or bottle",
}

// ============================================================================
// Recognition
// ============================================================================

// RecognitionSystemPrompt defines the role and output schema for food recognition.
const RecognitionSystemPrompt = `You are a food recognition expert analyzing a single meal photo.

Rules:
1. Only report items that belong to the requested category. Ignore everything else in the photo.
2. Use specific, common names ("grilled chicken breast", not "meat").
3. List up to 3 plausible alternatives for each item you are not sure about.
4. confidence is one of: low, medium, high.
5. is_packaged is true only for industrialized products whose label weight is visible or standard.
6. calorie_risk_items lists hidden calorie sources (oil, sauces, butter, sugar).
7. visual_notes lists observations that affect portion size (plate diameter, depth, cutlery for scale).

Respond with JSON only:
{"items":[{"name":"...","alternatives":["..."],"confidence":"high","is_packaged":false}],"calorie_risk_items":["..."],"visual_notes":["..."]}`

// RecognitionUserPrompt builds the user turn for a category.
func RecognitionUserPrompt(category string) string {
	return fmt.Sprintf("Requested category: %s (%s).\nIdentify every %s item in this photo.",
		category, CategoryDescriptions[category], category)
}

// ============================================================================
// Portion Estimation
// ============================================================================

// PortionSystemPrompt defines quantity estimation rules.
const PortionSystemPrompt = `You are a portion size estimator. Quantities are grams for food and millilitres for drinks.

Rules:
1. Give central_qty plus min_qty and max_qty bounding a plausible range (min_qty <= central_qty <= max_qty).
2. confidence is one of: low, medium, high.
3. Packaged items use the manufacturer's standard serving weight.
4. Use visual notes (plate size, cutlery) as scale references.

Respond with JSON only:
{"portions":[{"item":"...","central_qty":150,"min_qty":120,"max_qty":180,"confidence":"medium"}],"questions":[{"id":"q1","prompt":"...","options":["..."]}],"uncertainty_notes":["..."]}`

const interactiveRule = `You may ask up to %d short multiple-choice questions when an answer would
materially narrow a range (hidden ingredients, preparation method, real plate size).
Give every question a unique id. Ask nothing if the photo is clear.`

const autonomousRule = `Do not ask questions: return "questions": []. When unsure, widen min_qty/max_qty
and describe the uncertainty in uncertainty_notes.`

// PortionInput carries what the portion prompt needs.
type PortionInput struct {
	Items        []string
	Packaged     []string
	VisualNotes  []string
	Profile      string
	Interactive  bool
	MaxQuestions int
	Answers      []string // "question -> answer" pairs from a clarification round
}

// PortionUserPrompt builds the user turn for portion estimation.
func PortionUserPrompt(in PortionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Items: %s\n", strings.Join(in.Items, "; "))
	if len(in.Packaged) > 0 {
		fmt.Fprintf(&b, "Packaged items: %s\n", strings.Join(in.Packaged, "; "))
	}
	if len(in.VisualNotes) > 0 {
		fmt.Fprintf(&b, "Visual notes: %s\n", strings.Join(in.VisualNotes, "; "))
	}
	if in.Profile != "" {
		fmt.Fprintf(&b, "User profile: %s\n", in.Profile)
	}
	if len(in.Answers) > 0 {
		b.WriteString("The user answered:\n")
		for _, a := range in.Answers {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("Use the answers to refine every estimate. Do not ask further questions.\n")
	} else if in.Interactive {
		fmt.Fprintf(&b, interactiveRule+"\n", in.MaxQuestions)
	} else {
		b.WriteString(autonomousRule + "\n")
	}
	return b.String()
}

// ============================================================================
// Health Advisory
// ============================================================================

// DefaultDisclaimer is attached to every advisory.
const DefaultDisclaimer = "This analysis is informational only and does not replace guidance from a nutritionist or physician."

// AdvisorySystemPrompt defines the health advisor's role.
const AdvisorySystemPrompt = `You are a registered-dietitian style assistant. Given a meal's nutrition
estimate and the user's profile, point out benefits and concerns and give at most 3
practical recommendations. Never diagnose. Respect allergies and dietary restrictions.

Respond with JSON only:
{"benefits":["..."],"concerns":["..."],"practical_recommendations":["..."],"disclaimer":"..."}`

// ============================================================================
// Meal Optimization
// ============================================================================

// OptimizationSystemPrompt defines the meal optimizer's role.
const OptimizationSystemPrompt = `You improve meals. Suggest a realistic healthier version of the
analyzed meal that keeps its spirit, fits the user's objective and avoids their allergens.
Estimate the new calories and macros. image_prompt describes the improved plate for a
food photographer in one sentence.

Respond with JSON only:
{"improved_description":"...","suggested_changes":["..."],"new_calories":{"central":0,"min":0,"max":0},"new_macros":{"protein_g":0,"carb_g":0,"fat_g":0,"fiber_g":0},"image_prompt":"..."}`

// MealSummaryPrompt renders the nutrition context shared by advisory and optimization.
func MealSummaryPrompt(items []string, kcal, kcalMin, kcalMax, protein, carb, fat, fiber float64, confidence, profile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meal: %s\n", strings.Join(items, "; "))
	fmt.Fprintf(&b, "Calories: %.0f kcal (range %.0f-%.0f), confidence %s\n", kcal, kcalMin, kcalMax, confidence)
	fmt.Fprintf(&b, "Macros: protein %.1f g, carbs %.1f g, fat %.1f g, fiber %.1f g\n", protein, carb, fat, fiber)
	if profile != "" {
		fmt.Fprintf(&b, "User profile: %s\n", profile)
	}
	return b.String()
}

// ============================================================================
// Media Generation
// ============================================================================

// FoodPhotoPrompt wraps a meal description into a photography prompt.
func FoodPhotoPrompt(description string) string {
	return fmt.Sprintf("Professional overhead food photograph, square 1:1 composition, natural daylight, "+
		"neutral ceramic plate on a light wooden table, appetizing and realistic: %s", strings.TrimSpace(description))
}
