package control

import (
	"context"
	"fmt"

	"content-pipeline-engine/internal/models"
)

// BatchResult reports the outcome for one id in a batch operation.
type BatchResult struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Batch applies a transition to every id independently: one item's rejection
// never blocks the others, and the response lists each outcome.
func (s *Service) Batch(ctx context.Context, op models.Transition, ids []int64) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		var err error
		switch op {
		case models.TransitionPause:
			err = s.Pause(ctx, id)
		case models.TransitionResume:
			err = s.Resume(ctx, id)
		case models.TransitionRetry:
			err = s.Retry(ctx, id, nil)
		case models.TransitionDelete:
			err = s.Delete(ctx, id)
		case models.TransitionCancel:
			err = s.Cancel(ctx, id)
		default:
			err = fmt.Errorf("unsupported batch operation %q", op)
		}

		result := BatchResult{ID: id, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}
