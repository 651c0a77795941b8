package pipeline

import (
	"context"
	"errors"

	"content-pipeline-engine/internal/models"
)

// StepInput carries everything a step may read: the item, its tenant context,
// and the latest artifact produced by each earlier step.
type StepInput struct {
	Item      models.ContentItem
	Tenant    models.Tenant
	Artifacts map[string]models.Artifact
}

// StepResult is the output of a successful step run.
type StepResult struct {
	Data       map[string]any
	TokenUsage int
	Reasoning  string
}

// Step executes one named pipeline stage for one content item. Steps must be
// idempotent against their own prior artifact: a retried step may run again
// after a crash and must not double-charge externally visible side effects.
type Step interface {
	Name() string
	Run(ctx context.Context, in StepInput) (StepResult, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a step error as non-retryable: the executor fails the item
// immediately instead of consuming the retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
