package docflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Pipeline error categories. These name the stage that produced a failure and
// drive retry routing; the fix taxonomy in classify.go is separate and drives
// handler dispatch.
const (
	ErrorCategoryGeneration = "generation_failed"
	ErrorCategoryCheckpoint = "checkpoint_failed"
	ErrorCategoryValidation = "validation_failed"
	ErrorCategoryRender     = "render_failed"
	ErrorCategoryQuality    = "quality_failed"
	ErrorCategoryTimeout    = "timeout"
)

// PipelineError is a structured error carrying the pipeline category of the
// failure. It supports Go's error wrapping with Unwrap().
type PipelineError struct {
	Category string      `json:"category"`
	Cause    string      `json:"cause"`
	Details  interface{} `json:"details,omitempty"`
	Wrapped  error       `json:"-"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Wrapped
}

// NewPipelineError creates a PipelineError with the given category and cause.
func NewPipelineError(category, cause string) *PipelineError {
	return &PipelineError{Category: category, Cause: cause}
}

// WrapPipelineError wraps err with a pipeline category. A nil err returns nil.
func WrapPipelineError(category string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		category = ErrorCategoryTimeout
	}
	return &PipelineError{Category: category, Cause: err.Error(), Wrapped: err}
}

// ErrAwaitingInput is returned by Engine.Run when the pipeline stops on an
// unanswered question. The session state has been persisted; the caller should
// collect decisions and resume.
var ErrAwaitingInput = errors.New("awaiting human input")
