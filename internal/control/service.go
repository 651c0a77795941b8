package control

import (
	"context"
	"fmt"
	"time"

	"content-pipeline-engine/internal/models"
	"content-pipeline-engine/internal/pipeline"
	"content-pipeline-engine/internal/store"
)

// Store is the slice of the store the control plane mutates. All transitions
// go through compare-and-set guards, so control operations never race the
// lease holder into an invalid state.
type Store interface {
	CreateItem(ctx context.Context, p store.CreateItemParams) (models.ContentItem, error)
	GetItem(ctx context.Context, id int64) (models.ContentItem, error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.ContentItem, error)
	CASStatus(ctx context.Context, id int64, from []models.Status, to models.Status) (bool, error)
	Approve(ctx context.Context, id int64) (bool, error)
	Reschedule(ctx context.Context, id int64, at time.Time) (bool, error)
	RetryFrom(ctx context.Context, id int64, fromStep *int, invalidate []string) (bool, error)
	DeleteItem(ctx context.Context, id int64) (bool, error)
	LatestArtifacts(ctx context.Context, queueID int64) (map[string]models.Artifact, error)
	LogsForItem(ctx context.Context, queueID int64) ([]models.ExecutionLogEntry, error)
}

// InvalidTransitionError reports a rejected control operation with the reason
// the dashboard shows. Item state is unchanged.
type InvalidTransitionError struct {
	Op     models.Transition
	ID     int64
	Status models.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s item", e.Op, e.Status)
}

// Service implements pause/resume/cancel/retry/reschedule/delete/approve and
// their batch equivalents.
type Service struct {
	store Store
	def   pipeline.Definition
}

// New builds the control-plane service over the pipeline definition.
func New(st Store, def pipeline.Definition) *Service {
	return &Service{store: st, def: def}
}

// Enqueue creates a pending item at step zero.
func (s *Service) Enqueue(ctx context.Context, tenantID, title string, scheduledFor time.Time) (models.ContentItem, error) {
	return s.store.CreateItem(ctx, store.CreateItemParams{
		TenantID:     tenantID,
		Title:        title,
		ScheduledFor: scheduledFor,
	})
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id int64) (models.ContentItem, error) {
	return s.store.GetItem(ctx, id)
}

// QueueForTenant returns a tenant's items for the dashboard poll.
func (s *Service) QueueForTenant(ctx context.Context, tenantID string) ([]models.ContentItem, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

// Pause suspends a pending or processing item. current_step is preserved; a
// step already in flight finishes first and the executor parks the item at
// the next boundary.
func (s *Service) Pause(ctx context.Context, id int64) error {
	return s.apply(ctx, id, models.TransitionPause, func() (bool, error) {
		return s.store.CASStatus(ctx, id, models.AllowedFrom(models.TransitionPause), models.StatusPaused)
	})
}

// Resume makes a paused item eligible for re-dispatch from its preserved
// step.
func (s *Service) Resume(ctx context.Context, id int64) error {
	return s.apply(ctx, id, models.TransitionResume, func() (bool, error) {
		return s.store.CASStatus(ctx, id, models.AllowedFrom(models.TransitionResume), models.StatusPending)
	})
}

// Cancel terminates an item. No further dispatch happens; a step in flight is
// allowed to finish before the executor observes the state.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.apply(ctx, id, models.TransitionCancel, func() (bool, error) {
		return s.store.CASStatus(ctx, id, models.AllowedFrom(models.TransitionCancel), models.StatusCancelled)
	})
}

// Retry re-queues a failed item. fromStep optionally rewinds to an earlier
// step; artifacts from that step onward are invalidated so the executor
// rebuilds them.
func (s *Service) Retry(ctx context.Context, id int64, fromStep *int) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(models.TransitionRetry, item.Status) {
		return &InvalidTransitionError{Op: models.TransitionRetry, ID: id, Status: item.Status}
	}
	var invalidate []string
	if fromStep != nil {
		if *fromStep < 0 || *fromStep > item.CurrentStep {
			return fmt.Errorf("retry step %d out of range [0,%d]", *fromStep, item.CurrentStep)
		}
		invalidate = s.def.NamesFrom(*fromStep)
	}
	ok, err := s.store.RetryFrom(ctx, id, fromStep, invalidate)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, id, models.TransitionRetry)
	}
	return nil
}

// Reschedule moves scheduled_for. Valid from any non-terminal,
// non-processing state.
func (s *Service) Reschedule(ctx context.Context, id int64, at time.Time) error {
	return s.apply(ctx, id, models.TransitionReschedule, func() (bool, error) {
		return s.store.Reschedule(ctx, id, at)
	})
}

// Delete hard-deletes an item and its artifacts. Processing items are
// rejected; pause or cancel them first so no running step is orphaned.
// Execution logs are retained for analytics and aged out by retention.
func (s *Service) Delete(ctx context.Context, id int64) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(models.TransitionDelete, item.Status) {
		return &InvalidTransitionError{Op: models.TransitionDelete, ID: id, Status: item.Status}
	}
	ok, err := s.store.DeleteItem(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, id, models.TransitionDelete)
	}
	return nil
}

// Approve clears the review gate (or the manual-publish hold): the item
// re-enters the queue at its preserved step with approval recorded.
func (s *Service) Approve(ctx context.Context, id int64) error {
	return s.apply(ctx, id, models.TransitionApprove, func() (bool, error) {
		return s.store.Approve(ctx, id)
	})
}

// apply validates the transition against the current status, then runs the
// guarded update. A false CAS means the status moved concurrently; the error
// reflects the fresh status.
func (s *Service) apply(ctx context.Context, id int64, t models.Transition, do func() (bool, error)) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(t, item.Status) {
		return &InvalidTransitionError{Op: t, ID: id, Status: item.Status}
	}
	ok, err := do()
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, id, t)
	}
	return nil
}

func (s *Service) conflict(ctx context.Context, id int64, t models.Transition) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{Op: t, ID: id, Status: item.Status}
}
