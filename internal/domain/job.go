package domain

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusRecognizing        JobStatus = "recognizing"
	JobStatusEstimatingPortions JobStatus = "estimating_portions"
	JobStatusWaitingUser        JobStatus = "waiting_user"
	JobStatusCalculating        JobStatus = "calculating"
	JobStatusAdvising           JobStatus = "advising"
	JobStatusOptimizing         JobStatus = "optimizing"
	JobStatusGeneratingImage    JobStatus = "generating_image"
	JobStatusDone               JobStatus = "done"
	JobStatusError              JobStatus = "error"
)

// transitions lists the forward edges of the job graph. Every non-terminal
// status may additionally move to JobStatusError.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:            {JobStatusRecognizing},
	JobStatusRecognizing:        {JobStatusEstimatingPortions},
	JobStatusEstimatingPortions: {JobStatusWaitingUser, JobStatusCalculating},
	JobStatusWaitingUser:        {JobStatusEstimatingPortions},
	JobStatusCalculating:        {JobStatusAdvising},
	JobStatusAdvising:           {JobStatusOptimizing, JobStatusGeneratingImage, JobStatusDone},
	JobStatusOptimizing:         {JobStatusGeneratingImage, JobStatusDone},
	JobStatusGeneratingImage:    {JobStatusDone},
}

var stageLabels = map[JobStatus]string{
	JobStatusPending:            "Queued",
	JobStatusRecognizing:        "Identifying foods",
	JobStatusEstimatingPortions: "Estimating portions",
	JobStatusWaitingUser:        "Waiting for your answers",
	JobStatusCalculating:        "Calculating nutrition",
	JobStatusAdvising:           "Preparing health advice",
	JobStatusOptimizing:         "Optimizing the meal",
	JobStatusGeneratingImage:    "Generating meal image",
	JobStatusDone:               "Analysis complete",
	JobStatusError:              "Analysis failed",
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := stageLabels[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Runnable reports whether the job can be advanced without user input.
func (s JobStatus) Runnable() bool {
	return s.Valid() && !s.Terminal() && s != JobStatusWaitingUser
}

// HasNutrition reports whether a job in status s must carry a nutrition result.
func (s JobStatus) HasNutrition() bool {
	switch s {
	case JobStatusAdvising, JobStatusOptimizing, JobStatusGeneratingImage, JobStatusDone:
		return true
	}
	return false
}

// Label returns the human-readable step indicator for s.
func (s JobStatus) Label() string {
	return stageLabels[s]
}

// CanTransition reports whether from -> to is an edge of the job graph.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == JobStatusError {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// ErrorKind classifies why a job ended in JobStatusError.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "TransportFailure"
	ErrorKindMalformed ErrorKind = "MalformedResponse"
	ErrorKindNotFound  ErrorKind = "ResourceNotFound"
	ErrorKindInvariant ErrorKind = "InvariantViolation"
)

// Job is one meal analysis and everything the stages produced for it.
type Job struct {
	ID           string       `gorm:"type:text;primaryKey" json:"id"`
	UserID       string       `gorm:"type:text;not null;index:idx_jobs_user_created,priority:1" json:"user_id"`
	Status       JobStatus    `gorm:"type:text;not null;index:idx_jobs_status;default:pending" json:"status"`
	StageLabel   string       `gorm:"type:text" json:"stage_label"`
	ImageRef     string       `gorm:"type:text;not null" json:"image_ref"`
	MealCategory MealCategory `gorm:"type:text;not null" json:"meal_category"`
	AnalysisMode AnalysisMode `gorm:"type:text;not null;default:simple" json:"analysis_mode"`
	PortionMode  PortionMode  `gorm:"type:text;not null;default:interactive" json:"portion_mode"`

	Profile datatypes.JSONType[Profile] `json:"profile"`

	RecognizedItems  datatypes.JSONSlice[RecognizedItem] `json:"recognized_items"`
	CalorieRiskItems datatypes.JSONSlice[string]         `json:"calorie_risk_items"`
	VisualNotes      datatypes.JSONSlice[string]         `json:"visual_notes"`

	Portions         datatypes.JSONSlice[Portion]  `json:"portions"`
	UncertaintyNotes datatypes.JSONSlice[string]   `json:"uncertainty_notes"`
	PendingQuestions datatypes.JSONSlice[Question] `json:"pending_questions"`

	// AnsweredQuestions keeps the prompts behind UserAnswers for re-estimation.
	AnsweredQuestions   datatypes.JSONSlice[Question]         `json:"answered_questions"`
	UserAnswers         datatypes.JSONType[map[string]string] `json:"user_answers"`
	ClarificationRounds int                                   `gorm:"not null;default:0" json:"clarification_rounds"`

	Nutrition      datatypes.JSONType[*NutritionResult] `json:"nutrition"`
	Advisory       datatypes.JSONType[*Advisory]        `json:"advisory"`
	OptimizedMeal  datatypes.JSONType[*OptimizedMeal]   `json:"optimized_meal"`
	GeneratedImage datatypes.JSONType[*GeneratedImage]  `json:"generated_image"`

	ErrorKind    ErrorKind `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`

	// Revision increments on every write and guards compare-and-set updates.
	Revision int `gorm:"not null;default:0" json:"revision"`
	// ClaimedUntil is set while a process runs the current stage.
	ClaimedUntil *time.Time `gorm:"index:idx_jobs_claimed" json:"-"`

	CreatedAt time.Time `gorm:"index:idx_jobs_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_jobs_updated" json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "analysis_jobs"
}

// NewJob returns a pending job.
func NewJob(id, userID, imageRef string, category MealCategory, mode AnalysisMode, portionMode PortionMode, profile Profile) *Job {
	return &Job{
		ID:           id,
		UserID:       userID,
		Status:       JobStatusPending,
		StageLabel:   JobStatusPending.Label(),
		ImageRef:     imageRef,
		MealCategory: category,
		AnalysisMode: mode,
		PortionMode:  portionMode,
		Profile:      datatypes.NewJSONType(profile),
		UserAnswers:  datatypes.NewJSONType(map[string]string{}),
	}
}

// Clone returns a copy whose slices can be replaced without touching j.
// Stage outputs held behind pointers are replaced wholesale, never mutated.
func (j *Job) Clone() *Job {
	c := *j
	c.RecognizedItems = slices.Clone(j.RecognizedItems)
	c.CalorieRiskItems = slices.Clone(j.CalorieRiskItems)
	c.VisualNotes = slices.Clone(j.VisualNotes)
	c.Portions = slices.Clone(j.Portions)
	c.UncertaintyNotes = slices.Clone(j.UncertaintyNotes)
	c.PendingQuestions = slices.Clone(j.PendingQuestions)
	c.AnsweredQuestions = slices.Clone(j.AnsweredQuestions)
	answers := make(map[string]string, len(j.UserAnswers.Data()))
	for k, v := range j.UserAnswers.Data() {
		answers[k] = v
	}
	c.UserAnswers = datatypes.NewJSONType(answers)
	return &c
}

// Claimed reports whether a stage run holds the job at now.
func (j *Job) Claimed(now time.Time) bool {
	return j.ClaimedUntil != nil && j.ClaimedUntil.After(now)
}

// SetStatus moves the job to s and refreshes its label. It does not validate the edge.
func (j *Job) SetStatus(s JobStatus) {
	j.Status = s
	j.StageLabel = s.Label()
}

// Fail moves the job to JobStatusError and drops every output that must not
// be exposed for a failed job.
func (j *Job) Fail(kind ErrorKind, message string) {
	j.SetStatus(JobStatusError)
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.PendingQuestions = nil
	j.Nutrition = datatypes.NewJSONType[*NutritionResult](nil)
	j.Advisory = datatypes.NewJSONType[*Advisory](nil)
	j.OptimizedMeal = datatypes.NewJSONType[*OptimizedMeal](nil)
	j.GeneratedImage = datatypes.NewJSONType[*GeneratedImage](nil)
}

// ItemNames returns the recognized item names in recognition order.
func (j *Job) ItemNames() []string {
	names := make([]string, 0, len(j.RecognizedItems))
	for _, item := range j.RecognizedItems {
		names = append(names, item.Name)
	}
	return names
}
