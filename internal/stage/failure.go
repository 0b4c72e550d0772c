// Package stage adapts inference providers to the typed inputs and outputs of
// each analysis stage. Every adapter either returns a validated output or a
// *Failure whose Kind says how the orchestrator should treat it.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/sanitize"
	"github.com/timmy/nutrilens/internal/storage"
)

// Stage names, used in failures, logs and spans.
const (
	NameRecognition  = "recognition"
	NamePortion      = "portion_estimation"
	NameAdvisory     = "health_advisory"
	NameOptimization = "meal_optimization"
	NameMedia        = "media_generation"
	NameImage        = "image_input"
)

var (
	ErrTransport = errors.New("transport failure")
	ErrMalformed = errors.New("malformed response")
	ErrNotFound  = errors.New("resource not found")
	ErrInvariant = errors.New("invariant violation")
)

// Failure is the error type returned by every adapter.
type Failure struct {
	Stage string
	Kind  error // one of the Err* sentinels above
	Msg   string
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Stage, e.Kind, e.Msg)
}

func (e *Failure) Unwrap() error { return e.Kind }

// ErrorKind maps the failure onto the persisted job error kind.
func (e *Failure) ErrorKind() domain.ErrorKind {
	switch e.Kind {
	case ErrMalformed:
		return domain.ErrorKindMalformed
	case ErrNotFound:
		return domain.ErrorKindNotFound
	case ErrInvariant:
		return domain.ErrorKindInvariant
	default:
		return domain.ErrorKindTransport
	}
}

func malformed(stage, format string, args ...any) *Failure {
	return &Failure{Stage: stage, Kind: ErrMalformed, Msg: fmt.Sprintf(format, args...)}
}

// AsFailure returns err as a *Failure, classifying foreign errors.
func AsFailure(stage string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	kind := ErrTransport
	switch {
	case errors.Is(err, sanitize.ErrMalformed), errors.Is(err, inference.ErrEmptyResponse):
		kind = ErrMalformed
	case errors.Is(err, storage.ErrObjectNotFound):
		kind = ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Stage: stage, Kind: ErrTransport, Msg: "timed out: " + err.Error()}
	}
	return &Failure{Stage: stage, Kind: kind, Msg: err.Error()}
}
