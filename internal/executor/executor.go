package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"content-pipeline-engine/internal/config"
	"content-pipeline-engine/internal/models"
	"content-pipeline-engine/internal/pipeline"
	"content-pipeline-engine/internal/telemetry"
)

// ErrLeaseLost signals that the runner no longer owns the item. The executor
// stops immediately without touching item state; whoever holds the lease now
// owns progression.
var ErrLeaseLost = errors.New("lease lost")

// ItemStore is the slice of the store the executor mutates. Only the lease
// holder goes through these methods for a given item.
type ItemStore interface {
	GetItem(ctx context.Context, id int64) (models.ContentItem, error)
	GetTenant(ctx context.Context, id string) (models.Tenant, error)
	LatestArtifacts(ctx context.Context, queueID int64) (map[string]models.Artifact, error)
	SaveArtifact(ctx context.Context, queueID int64, stepName string, data map[string]any) error
	AppendLog(ctx context.Context, entry models.ExecutionLogEntry) error
	AdvanceStep(ctx context.Context, id int64, next int) (bool, error)
	CASStatus(ctx context.Context, id int64, from []models.Status, to models.Status) (bool, error)
	MarkComplete(ctx context.Context, id int64, publishedURL string) (bool, error)
	MarkFailed(ctx context.Context, id int64) (bool, error)
}

// Leases is the lease operations the executor needs while running.
type Leases interface {
	Renew(ctx context.Context, queueID int64, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, queueID int64, owner string) error
}

// Executor drives one item through its remaining pipeline steps.
type Executor struct {
	cfg      config.Config
	store    ItemStore
	leases   Leases
	def      pipeline.Definition
	registry *pipeline.Registry
}

// New builds an executor over a pipeline definition.
func New(cfg config.Config, st ItemStore, leases Leases, def pipeline.Definition, reg *pipeline.Registry) *Executor {
	return &Executor{cfg: cfg, store: st, leases: leases, def: def, registry: reg}
}

// RunItem executes steps strictly in order starting at the item's
// current_step, until a terminal or suspending state. The caller must already
// hold the lease under owner and have moved the item to processing.
//
// Step errors never escape as panics or dispatcher crashes; they surface only
// through agent_logs and the item's status.
func (e *Executor) RunItem(ctx context.Context, itemID int64, owner string) error {
	for {
		item, err := e.store.GetItem(ctx, itemID)
		if err != nil {
			e.releaseLease(itemID, owner)
			return fmt.Errorf("load item %d: %w", itemID, err)
		}

		// A pause or cancel landed between steps. Hand the lease back and
		// leave the preserved current_step alone.
		if item.Status != models.StatusProcessing {
			e.releaseLease(itemID, owner)
			return nil
		}

		if item.CurrentStep >= e.def.Len() {
			// Defensive terminal: all steps already ran.
			_, err := e.store.MarkComplete(ctx, itemID, e.publishedURL(ctx, itemID))
			e.releaseLease(itemID, owner)
			return err
		}

		ok, err := e.leases.Renew(ctx, itemID, owner, e.cfg.LeaseTTL)
		if err != nil {
			e.releaseLease(itemID, owner)
			return fmt.Errorf("renew lease for item %d: %w", itemID, err)
		}
		if !ok {
			return ErrLeaseLost
		}

		tenant, err := e.store.GetTenant(ctx, item.TenantID)
		if err != nil {
			// Missing tenant context is tolerated; steps see zero values
			// and the publish gate defaults to manual approval.
			tenant = models.Tenant{ID: item.TenantID}
		}

		stepDef := e.def.Steps[item.CurrentStep]

		if stepDef.Gate && item.ApprovedAt == nil {
			_, err := e.store.CASStatus(ctx, itemID,
				[]models.Status{models.StatusProcessing}, models.StatusReviewPending)
			e.releaseLease(itemID, owner)
			return err
		}
		if stepDef.Publish && !tenant.AutoPublish() && item.ApprovedAt == nil {
			_, err := e.store.CASStatus(ctx, itemID,
				[]models.Status{models.StatusProcessing}, models.StatusDraftReady)
			e.releaseLease(itemID, owner)
			return err
		}

		result, runErr := e.runStep(ctx, stepDef, item, tenant, owner)
		if runErr != nil {
			if errors.Is(runErr, ErrLeaseLost) {
				return ErrLeaseLost
			}
			// Shutdown is not a step failure. Leave the item in processing,
			// give the lease back, and let orphan reclaim re-queue it so the
			// next worker resumes from current_step.
			if ctx.Err() != nil {
				e.releaseLease(itemID, owner)
				return ctx.Err()
			}
			if _, err := e.store.MarkFailed(ctx, itemID); err != nil {
				runErr = errors.Join(runErr, err)
			}
			telemetry.ItemsFailed.Inc()
			e.releaseLease(itemID, owner)
			return runErr
		}

		if err := e.store.SaveArtifact(ctx, itemID, stepDef.Name, result.Data); err != nil {
			e.releaseLease(itemID, owner)
			return fmt.Errorf("save artifact for %s: %w", stepDef.Name, err)
		}

		next := item.CurrentStep + 1
		advanced, err := e.store.AdvanceStep(ctx, itemID, next)
		if err != nil {
			e.releaseLease(itemID, owner)
			return fmt.Errorf("advance item %d: %w", itemID, err)
		}
		if !advanced {
			// Either a pause/cancel landed while the step was in flight, or
			// another runner progressed the item under a retaken lease.
			fresh, err := e.store.GetItem(ctx, itemID)
			if err == nil && fresh.Status != models.StatusProcessing && fresh.CurrentStep == item.CurrentStep {
				e.releaseLease(itemID, owner)
				return nil
			}
			return ErrLeaseLost
		}

		if next == e.def.Len() {
			url, _ := result.Data["published_url"].(string)
			if _, err := e.store.MarkComplete(ctx, itemID, url); err != nil {
				e.releaseLease(itemID, owner)
				return fmt.Errorf("complete item %d: %w", itemID, err)
			}
			telemetry.ItemsCompleted.Inc()
			e.releaseLease(itemID, owner)
			return nil
		}
	}
}

// runStep invokes one step with its timeout and retry budget. Every attempt
// appends an execution log row; transient failures back off exponentially
// with jitter, permanent ones abort immediately.
func (e *Executor) runStep(ctx context.Context, stepDef pipeline.StepDef, item models.ContentItem, tenant models.Tenant, owner string) (pipeline.StepResult, error) {
	step, ok := e.registry.Resolve(stepDef.Name)
	if !ok {
		return pipeline.StepResult{}, fmt.Errorf("step %q not registered", stepDef.Name)
	}

	retries := stepDef.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		artifacts, err := e.store.LatestArtifacts(ctx, item.ID)
		if err != nil {
			return pipeline.StepResult{}, fmt.Errorf("load artifacts: %w", err)
		}

		in := pipeline.StepInput{Item: item, Tenant: tenant, Artifacts: artifacts}

		stepCtx := ctx
		cancel := func() {}
		if stepDef.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, stepDef.Timeout)
		}
		start := time.Now()
		result, err := step.Run(stepCtx, in)
		duration := time.Since(start)
		cancel()

		entry := models.ExecutionLogEntry{
			QueueID:    item.ID,
			AgentName:  stepDef.Name,
			DurationMS: duration.Milliseconds(),
			TokenUsage: result.TokenUsage,
			Success:    err == nil,
		}
		if result.Reasoning != "" {
			entry.ReasoningTrace = &result.Reasoning
		}
		if err != nil {
			trace := err.Error()
			entry.ErrorTrace = &trace
		}
		if logErr := e.store.AppendLog(ctx, entry); logErr != nil {
			return pipeline.StepResult{}, fmt.Errorf("append log for %s: %w", stepDef.Name, logErr)
		}

		telemetry.StepDuration.WithLabelValues(stepDef.Name).Observe(duration.Seconds())
		if err == nil {
			telemetry.StepsSucceeded.WithLabelValues(stepDef.Name).Inc()
			return result, nil
		}
		telemetry.StepsFailed.WithLabelValues(stepDef.Name).Inc()
		lastErr = err

		if pipeline.IsPermanent(err) {
			return pipeline.StepResult{}, fmt.Errorf("step %s: %w", stepDef.Name, err)
		}
		if attempt == retries {
			break
		}

		wait := backoffWithJitter(e.cfg.BackoffInitial, e.cfg.BackoffMax, attempt)
		select {
		case <-ctx.Done():
			return pipeline.StepResult{}, ctx.Err()
		case <-time.After(wait):
		}

		// A long backoff must not let the lease lapse under us.
		ok, err := e.leases.Renew(ctx, item.ID, owner, e.cfg.LeaseTTL)
		if err != nil {
			return pipeline.StepResult{}, fmt.Errorf("renew lease during retry: %w", err)
		}
		if !ok {
			return pipeline.StepResult{}, ErrLeaseLost
		}
	}

	return pipeline.StepResult{}, fmt.Errorf("step %s: retry budget exhausted after %d attempts: %w", stepDef.Name, retries, lastErr)
}

func (e *Executor) publishedURL(ctx context.Context, itemID int64) string {
	artifacts, err := e.store.LatestArtifacts(ctx, itemID)
	if err != nil {
		return ""
	}
	if a, ok := artifacts["deployer"]; ok {
		if url, ok := a.Data["published_url"].(string); ok {
			return url
		}
	}
	return ""
}

// releaseLease uses a short background context so shutdown still returns the
// lease cleanly.
func (e *Executor) releaseLease(itemID int64, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.leases.Release(ctx, itemID, owner)
}
