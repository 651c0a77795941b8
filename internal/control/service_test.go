package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"content-pipeline-engine/internal/models"
	"content-pipeline-engine/internal/pipeline"
	"content-pipeline-engine/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	items       map[int64]models.ContentItem
	artifacts   map[int64]map[string]models.Artifact
	logs        map[int64][]models.ExecutionLogEntry
	invalidated map[int64][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:      1,
		items:       make(map[int64]models.ContentItem),
		artifacts:   make(map[int64]map[string]models.Artifact),
		logs:        make(map[int64][]models.ExecutionLogEntry),
		invalidated: make(map[int64][]string),
	}
}

func (f *fakeStore) seed(status models.Status, step int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.items[id] = models.ContentItem{
		ID: id, TenantID: "t1", Title: "Post", Status: status, CurrentStep: step,
	}
	return id
}

func (f *fakeStore) CreateItem(_ context.Context, p store.CreateItemParams) (models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	item := models.ContentItem{
		ID: id, TenantID: p.TenantID, Title: p.Title,
		Status: models.StatusPending, ScheduledFor: p.ScheduledFor,
	}
	f.items[id] = item
	return item, nil
}

func (f *fakeStore) GetItem(_ context.Context, id int64) (models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return models.ContentItem{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) ListByTenant(_ context.Context, tenantID string) ([]models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ContentItem
	for _, item := range f.items {
		if item.TenantID == tenantID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) CASStatus(_ context.Context, id int64, from []models.Status, to models.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if item.Status == s {
			item.Status = to
			f.items[id] = item
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Approve(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return false, nil
	}
	if item.Status != models.StatusReviewPending && item.Status != models.StatusDraftReady {
		return false, nil
	}
	now := time.Now()
	item.ApprovedAt = &now
	item.Status = models.StatusPending
	f.items[id] = item
	return true, nil
}

func (f *fakeStore) Reschedule(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return false, nil
	}
	if !models.CanTransition(models.TransitionReschedule, item.Status) {
		return false, nil
	}
	item.ScheduledFor = at
	f.items[id] = item
	return true, nil
}

func (f *fakeStore) RetryFrom(_ context.Context, id int64, fromStep *int, invalidate []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != models.StatusFailed {
		return false, nil
	}
	item.Status = models.StatusPending
	if fromStep != nil {
		item.CurrentStep = *fromStep
	}
	f.items[id] = item
	f.invalidated[id] = invalidate
	for _, name := range invalidate {
		delete(f.artifacts[id], name)
	}
	return true, nil
}

func (f *fakeStore) DeleteItem(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status == models.StatusProcessing {
		return false, nil
	}
	delete(f.items, id)
	delete(f.artifacts, id)
	return true, nil
}

func (f *fakeStore) LatestArtifacts(_ context.Context, queueID int64) (map[string]models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Artifact, len(f.artifacts[queueID]))
	for k, v := range f.artifacts[queueID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) LogsForItem(_ context.Context, queueID int64) ([]models.ExecutionLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[queueID], nil
}

func testDefinition() pipeline.Definition {
	return pipeline.Definition{Steps: []pipeline.StepDef{
		{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"},
	}}
}

func TestPauseAndResumePreserveStep(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusProcessing, 1)

	if err := svc.Pause(context.Background(), id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	item, _ := fs.GetItem(context.Background(), id)
	if item.Status != models.StatusPaused || item.CurrentStep != 1 {
		t.Fatalf("expected paused at step 1, got %s step %d", item.Status, item.CurrentStep)
	}

	if err := svc.Resume(context.Background(), id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	item, _ = fs.GetItem(context.Background(), id)
	if item.Status != models.StatusPending || item.CurrentStep != 1 {
		t.Fatalf("expected pending at step 1, got %s step %d", item.Status, item.CurrentStep)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusPending, 0)

	err := svc.Resume(context.Background(), id)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.Error() != "cannot resume pending item" {
		t.Fatalf("unexpected message %q", invalid.Error())
	}
}

func TestCancelTerminalItemRejected(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusComplete, 4)

	err := svc.Cancel(context.Background(), id)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestRetryRewindsAndInvalidatesArtifacts(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusFailed, 3)
	fs.artifacts[id] = map[string]models.Artifact{
		"a": {StepName: "a"}, "b": {StepName: "b"}, "c": {StepName: "c"},
	}

	from := 1
	if err := svc.Retry(context.Background(), id, &from); err != nil {
		t.Fatalf("retry: %v", err)
	}

	item, _ := fs.GetItem(context.Background(), id)
	if item.Status != models.StatusPending || item.CurrentStep != 1 {
		t.Fatalf("expected pending at step 1, got %s step %d", item.Status, item.CurrentStep)
	}
	arts, _ := fs.LatestArtifacts(context.Background(), id)
	if _, ok := arts["a"]; !ok {
		t.Fatalf("artifact before rewind point must survive")
	}
	for _, name := range []string{"b", "c"} {
		if _, ok := arts[name]; ok {
			t.Fatalf("artifact %s should have been invalidated", name)
		}
	}
	want := []string{"b", "c", "d"}
	got := fs.invalidated[id]
	if len(got) != len(want) {
		t.Fatalf("invalidated %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalidated %v, want %v", got, want)
		}
	}
}

func TestRetryFromStepOutOfRange(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusFailed, 2)

	from := 3
	if err := svc.Retry(context.Background(), id, &from); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	from = -1
	if err := svc.Retry(context.Background(), id, &from); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestApproveReturnsItemToQueue(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusReviewPending, 2)

	if err := svc.Approve(context.Background(), id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	item, _ := fs.GetItem(context.Background(), id)
	if item.Status != models.StatusPending || item.CurrentStep != 2 {
		t.Fatalf("expected pending at step 2, got %s step %d", item.Status, item.CurrentStep)
	}
	if item.ApprovedAt == nil {
		t.Fatalf("expected approval recorded")
	}
}

func TestRescheduleProcessingRejected(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusProcessing, 1)

	err := svc.Reschedule(context.Background(), id, time.Now().Add(time.Hour))
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestOperationsOnMissingItem(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())

	if err := svc.Pause(context.Background(), 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(context.Background(), 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchDeletePartialSuccess(t *testing.T) {
	// One processing item in the middle of the batch: the others delete,
	// the processing one is rejected with its reason, nothing rolls back.
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id1 := fs.seed(models.StatusPending, 0)
	id2 := fs.seed(models.StatusProcessing, 1)
	id3 := fs.seed(models.StatusFailed, 2)

	results := svc.Batch(context.Background(), models.TransitionDelete, []int64{id1, id2, id3})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK || !results[2].OK {
		t.Fatalf("expected items 1 and 3 deleted: %+v", results)
	}
	if results[1].OK {
		t.Fatalf("processing item must be rejected")
	}
	if results[1].Error != "cannot delete processing item" {
		t.Fatalf("unexpected rejection message %q", results[1].Error)
	}

	if _, err := fs.GetItem(context.Background(), id1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("item 1 should be gone")
	}
	if _, err := fs.GetItem(context.Background(), id2); err != nil {
		t.Fatalf("processing item must survive: %v", err)
	}
}

func TestBatchUnsupportedOperation(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, testDefinition())
	id := fs.seed(models.StatusPending, 0)

	results := svc.Batch(context.Background(), models.TransitionApprove, []int64{id})
	if results[0].OK {
		t.Fatalf("approve is not a batch operation")
	}
}
