package domain

// CalorieRange is a central estimate with its lower and upper bound.
type CalorieRange struct {
	Central float64 `json:"central"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Macros are totals in grams.
type Macros struct {
	ProteinG float64 `json:"protein_g"`
	CarbG    float64 `json:"carb_g"`
	FatG     float64 `json:"fat_g"`
	FiberG   float64 `json:"fiber_g"`
}

// ItemNutrition is the per-item row of a nutrition breakdown.
type ItemNutrition struct {
	Item       string       `json:"item"`
	Quantity   float64      `json:"quantity"`
	Calories   CalorieRange `json:"calories"`
	Macros     Macros       `json:"macros"`
	Confidence Confidence   `json:"confidence"`
	Resolved   bool         `json:"resolved"`
}

// NutritionResult is the aggregated estimate for a whole meal.
type NutritionResult struct {
	Calories          CalorieRange    `json:"calories"`
	Macros            Macros          `json:"macros"`
	PerItemBreakdown  []ItemNutrition `json:"per_item_breakdown"`
	OverallConfidence Confidence      `json:"overall_confidence"`
	Caveats           []string        `json:"estimation_caveats"`
}

// OutputStatus marks whether a best-effort stage produced a result.
type OutputStatus string

const (
	OutputAvailable   OutputStatus = "available"
	OutputUnavailable OutputStatus = "unavailable"
	OutputSkipped     OutputStatus = "skipped"
)

// Advisory is the health feedback for a meal.
type Advisory struct {
	Status                   OutputStatus `json:"status"`
	Reason                   string       `json:"reason,omitempty"`
	Benefits                 []string     `json:"benefits"`
	Concerns                 []string     `json:"concerns"`
	PracticalRecommendations []string     `json:"practical_recommendations"`
	Disclaimer               string       `json:"disclaimer"`
}

// OptimizedMeal is a suggested healthier variant of the analyzed meal.
type OptimizedMeal struct {
	Status              OutputStatus `json:"status"`
	Reason              string       `json:"reason,omitempty"`
	ImprovedDescription string       `json:"improved_description"`
	SuggestedChanges    []string     `json:"suggested_changes"`
	NewCalories         CalorieRange `json:"new_calories"`
	NewMacros           Macros       `json:"new_macros"`
	ImagePrompt         string       `json:"image_prompt"`
}

// GeneratedImage references the illustration of the optimized meal.
type GeneratedImage struct {
	Status OutputStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Ref    string       `json:"ref,omitempty"`
}
