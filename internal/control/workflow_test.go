package control

import (
	"context"
	"testing"

	"content-pipeline-engine/internal/models"
)

func TestWorkflowViewStates(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusReviewPending, 2)
	fs.artifacts[id] = map[string]models.Artifact{
		"a": {StepName: "a", Data: map[string]any{"k": "v"}},
		"b": {StepName: "b", Data: map[string]any{"k": "v"}},
	}
	trace := "model timeout"
	fs.logs[id] = []models.ExecutionLogEntry{
		{AgentName: "a", Success: true, DurationMS: 120, TokenUsage: 40},
		{AgentName: "b", Success: false, DurationMS: 80, TokenUsage: 10, ErrorTrace: &trace},
		{AgentName: "b", Success: true, DurationMS: 200, TokenUsage: 55},
	}

	view, err := svc.Workflow(context.Background(), id)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if len(view.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(view.Steps))
	}

	states := []string{"complete", "complete", "awaiting_review", "queued"}
	for i, want := range states {
		if view.Steps[i].State != want {
			t.Fatalf("step %d: state %q, want %q", i, view.Steps[i].State, want)
		}
	}
	if view.Steps[0].Attempts != 1 || view.Steps[0].TokenUsage != 40 {
		t.Fatalf("step a: %+v", view.Steps[0])
	}
	if view.Steps[1].Attempts != 2 || view.Steps[1].TokenUsage != 65 {
		t.Fatalf("step b attempts/tokens: %+v", view.Steps[1])
	}
	if view.Steps[1].ErrorTrace != nil {
		t.Fatalf("later success must clear the error trace")
	}
	if view.Steps[1].Output == nil {
		t.Fatalf("expected artifact output attached to step b")
	}
	if view.Steps[3].Output != nil || view.Steps[3].Attempts != 0 {
		t.Fatalf("queued step must be empty: %+v", view.Steps[3])
	}
}

func TestWorkflowFailedStepState(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusFailed, 1)
	trace := "contract violation"
	fs.logs[id] = []models.ExecutionLogEntry{
		{AgentName: "b", Success: false, ErrorTrace: &trace},
	}

	view, err := svc.Workflow(context.Background(), id)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if view.Steps[1].State != "failed" {
		t.Fatalf("expected failed, got %q", view.Steps[1].State)
	}
	if view.Steps[1].ErrorTrace == nil || *view.Steps[1].ErrorTrace != trace {
		t.Fatalf("expected error trace surfaced")
	}
}
