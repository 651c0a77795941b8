package control

import (
	"context"
	"fmt"

	"content-pipeline-engine/internal/models"
)

// StepView is one pipeline stage in the workflow visualization, derived from
// artifacts and execution logs.
type StepView struct {
	Name       string         `json:"name"`
	Index      int            `json:"index"`
	State      string         `json:"state"`
	Attempts   int            `json:"attempts"`
	DurationMS int64          `json:"duration_ms"`
	TokenUsage int            `json:"token_usage"`
	Output     map[string]any `json:"output,omitempty"`
	ErrorTrace *string        `json:"error_trace,omitempty"`
}

// WorkflowView is the per-step progress report for one item.
type WorkflowView struct {
	Item  models.ContentItem `json:"item"`
	Steps []StepView         `json:"steps"`
}

// Workflow assembles per-step status, duration, and output for the dashboard
// visualization.
func (s *Service) Workflow(ctx context.Context, id int64) (WorkflowView, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return WorkflowView{}, err
	}
	artifacts, err := s.store.LatestArtifacts(ctx, id)
	if err != nil {
		return WorkflowView{}, fmt.Errorf("load artifacts: %w", err)
	}
	logs, err := s.store.LogsForItem(ctx, id)
	if err != nil {
		return WorkflowView{}, fmt.Errorf("load logs: %w", err)
	}

	view := WorkflowView{Item: item, Steps: make([]StepView, 0, s.def.Len())}
	for i, stepDef := range s.def.Steps {
		sv := StepView{
			Name:  stepDef.Name,
			Index: i,
			State: stepState(item, i),
		}
		if a, ok := artifacts[stepDef.Name]; ok {
			sv.Output = a.Data
		}
		for _, entry := range logs {
			if entry.AgentName != stepDef.Name {
				continue
			}
			sv.Attempts++
			sv.DurationMS = entry.DurationMS
			sv.TokenUsage += entry.TokenUsage
			if !entry.Success {
				sv.ErrorTrace = entry.ErrorTrace
			} else {
				sv.ErrorTrace = nil
			}
		}
		view.Steps = append(view.Steps, sv)
	}
	return view, nil
}

func stepState(item models.ContentItem, index int) string {
	if index < item.CurrentStep {
		return "complete"
	}
	if index > item.CurrentStep {
		return "queued"
	}
	switch item.Status {
	case models.StatusProcessing:
		return "active"
	case models.StatusReviewPending:
		return "awaiting_review"
	case models.StatusDraftReady:
		return "awaiting_publish"
	case models.StatusFailed:
		return "failed"
	case models.StatusComplete:
		return "complete"
	default:
		return "queued"
	}
}
