package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"content-pipeline-engine/internal/config"
	"content-pipeline-engine/internal/executor"
	"content-pipeline-engine/internal/models"
	"content-pipeline-engine/internal/telemetry"
)

// Store is the slice of the store the dispatcher reads and claims items
// through.
type Store interface {
	DueItems(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error)
	ProcessingItems(ctx context.Context, limit int) ([]models.ContentItem, error)
	CountProcessingByTenant(ctx context.Context) (map[string]int, error)
	BeginProcessing(ctx context.Context, id int64) (bool, error)
	CASStatus(ctx context.Context, id int64, from []models.Status, to models.Status) (bool, error)
}

// Leases is the lease operations the dispatcher needs.
type Leases interface {
	Acquire(ctx context.Context, queueID int64, owner string, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, queueID int64) (string, error)
	Release(ctx context.Context, queueID int64, owner string) error
}

// Runner executes all remaining steps for one claimed item.
type Runner interface {
	RunItem(ctx context.Context, itemID int64, owner string) error
}

// Dispatcher polls for eligible items and hands them to the executor, capped
// by a global concurrency limit and a per-tenant fairness limit. Multiple
// dispatcher processes can run side by side; leases keep them from
// double-processing.
type Dispatcher struct {
	cfg      config.Config
	store    Store
	leases   Leases
	runner   Runner
	workerID string

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a dispatcher. workerID identifies this process in lease owner
// tokens.
func New(cfg config.Config, st Store, leases Leases, runner Runner, workerID string) *Dispatcher {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		leases:   leases,
		runner:   runner,
		workerID: workerID,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Run polls until context cancellation, then waits for in-flight items to
// reach a step boundary.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		d.reclaimOrphans(ctx)
		d.Tick(ctx)
	}
}

// Tick runs one dispatch pass: select due pending items, enforce tenant
// fairness, acquire leases, and start executor loops. Exposed for tests.
func (d *Dispatcher) Tick(ctx context.Context) {
	items, err := d.store.DueItems(ctx, time.Now(), d.cfg.DispatchBatchSize)
	if err != nil {
		log.Printf("dispatcher: query due items: %v", err)
		return
	}
	telemetry.PendingDepth.Set(float64(len(items)))
	if len(items) == 0 {
		return
	}

	counts, err := d.store.CountProcessingByTenant(ctx)
	if err != nil {
		log.Printf("dispatcher: count processing: %v", err)
		return
	}

	tenantCap := d.cfg.TenantConcurrency
	for _, item := range items {
		if tenantCap > 0 && counts[item.TenantID] >= tenantCap {
			continue
		}

		select {
		case d.sem <- struct{}{}:
		default:
			return // all worker slots busy; next poll picks up the rest
		}

		if !d.claim(ctx, item) {
			<-d.sem
			continue
		}
		counts[item.TenantID]++
	}
}

// claim acquires the lease and flips the item to processing, then starts the
// runner. Returns false when the item went to someone else.
func (d *Dispatcher) claim(ctx context.Context, item models.ContentItem) bool {
	owner := fmt.Sprintf("%s:%s", d.workerID, uuid.NewString())

	ok, err := d.leases.Acquire(ctx, item.ID, owner, d.cfg.LeaseTTL)
	if err != nil {
		log.Printf("dispatcher: acquire lease for item %d: %v", item.ID, err)
		return false
	}
	if !ok {
		// Another runner owns the item. Not an error, simply skip.
		telemetry.LeaseConflicts.Inc()
		return false
	}

	began, err := d.store.BeginProcessing(ctx, item.ID)
	if err != nil || !began {
		// The item left pending between our query and the claim (paused,
		// cancelled, or rescheduled). Give the lease back.
		_ = d.leases.Release(ctx, item.ID, owner)
		if err != nil {
			log.Printf("dispatcher: begin processing item %d: %v", item.ID, err)
		}
		return false
	}

	telemetry.ProcessingGauge.Inc()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			<-d.sem
			telemetry.ProcessingGauge.Dec()
		}()
		if err := d.runner.RunItem(ctx, item.ID, owner); err != nil &&
			!errors.Is(err, executor.ErrLeaseLost) && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher: item %d: %v", item.ID, err)
		}
	}()
	return true
}

// reclaimOrphans returns items stuck in processing with no live lease (a
// crashed runner) to pending. Recovery resumes from current_step; artifacts
// up to there remain valid.
func (d *Dispatcher) reclaimOrphans(ctx context.Context) {
	items, err := d.store.ProcessingItems(ctx, d.cfg.DispatchBatchSize)
	if err != nil {
		log.Printf("dispatcher: query processing items: %v", err)
		return
	}
	for _, item := range items {
		holder, err := d.leases.Holder(ctx, item.ID)
		if err != nil || holder != "" {
			continue
		}
		if ok, err := d.store.CASStatus(ctx, item.ID,
			[]models.Status{models.StatusProcessing}, models.StatusPending); err == nil && ok {
			log.Printf("dispatcher: reclaimed orphaned item %d at step %d", item.ID, item.CurrentStep)
		}
	}
}
