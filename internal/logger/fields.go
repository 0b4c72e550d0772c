package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the analysis job ID
	FieldJobID = "job_id"

	// FieldUserID is the job owner
	FieldUserID = "user_id"

	// FieldStage is the inference stage currently running for a job
	FieldStage = "stage"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	FieldCount = "count"

	// FieldAttempt is the 1-based attempt number of a retried call
	FieldAttempt = "attempt"

	// FieldStatus is the job or operation status
	FieldStatus = "status"
)
