package domain

import "strings"

// MealCategory restricts which recognized items are kept for a job.
type MealCategory string

const (
	MealCategoryDish     MealCategory = "dish"
	MealCategoryDessert  MealCategory = "dessert"
	MealCategoryBeverage MealCategory = "beverage"
)

// Valid reports whether c is one of the known categories.
func (c MealCategory) Valid() bool {
	switch c {
	case MealCategoryDish, MealCategoryDessert, MealCategoryBeverage:
		return true
	}
	return false
}

// AnalysisMode selects whether the optional image generation stage runs.
type AnalysisMode string

const (
	AnalysisModeSimple AnalysisMode = "simple"
	AnalysisModeFull   AnalysisMode = "full"
)

func (m AnalysisMode) Valid() bool {
	return m == AnalysisModeSimple || m == AnalysisModeFull
}

// PortionMode controls whether portion estimation may ask the user questions.
type PortionMode string

const (
	PortionModeInteractive PortionMode = "interactive"
	PortionModeAutonomous  PortionMode = "autonomous"
)

func (m PortionMode) Valid() bool {
	return m == PortionModeInteractive || m == PortionModeAutonomous
}

// Confidence is the three-level certainty scale shared by every stage.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence normalizes case and surrounding space. Unknown values are rejected.
func ParseConfidence(s string) (Confidence, bool) {
	c := Confidence(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c, true
	}
	return "", false
}

// Lower returns the next level down; low stays low.
func (c Confidence) Lower() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Profile is the user's dietary context. It is forwarded to stages untouched.
type Profile struct {
	Objective           string   `json:"objective,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	Allergies           []string `json:"allergies,omitempty"`
}

// IsEmpty reports whether no profile data was supplied.
func (p Profile) IsEmpty() bool {
	return p.Objective == "" && len(p.DietaryRestrictions) == 0 && len(p.Allergies) == 0
}

// RecognizedItem is one food identified in the photo.
type RecognizedItem struct {
	Name         string     `json:"name"`
	Alternatives []string   `json:"alternatives"`
	Confidence   Confidence `json:"confidence"`
	IsPackaged   bool       `json:"is_packaged"`
}

// Portion is a quantity estimate in grams or millilitres with a plausible range.
type Portion struct {
	Item       string     `json:"item"`
	CentralQty float64    `json:"central_qty"`
	MinQty     float64    `json:"min_qty"`
	MaxQty     float64    `json:"max_qty"`
	Confidence Confidence `json:"confidence"`
}

// Question is a clarification request shown to the user.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}
