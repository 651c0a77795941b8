package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"content-pipeline-engine/internal/models"
)

const itemColumns = `id, tenant_id, title, status, current_step, scheduled_for, published_url, approved_at, created_at, updated_at`

// CreateItemParams collects inputs required to enqueue a content item.
type CreateItemParams struct {
	TenantID     string
	Title        string
	ScheduledFor time.Time
}

// CreateItem inserts a content item in pending at step zero.
func (s *Store) CreateItem(ctx context.Context, p CreateItemParams) (models.ContentItem, error) {
	if p.ScheduledFor.IsZero() {
		p.ScheduledFor = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO content_queue (tenant_id, title, status, current_step, scheduled_for)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING `+itemColumns+`
	`, p.TenantID, p.Title, models.StatusPending, p.ScheduledFor)

	item, err := scanItem(row)
	if err != nil {
		return models.ContentItem{}, fmt.Errorf("insert content item: %w", err)
	}
	return item, nil
}

// GetItem fetches a content item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (models.ContentItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM content_queue WHERE id = $1
	`, id)

	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentItem{}, ErrNotFound
	}
	if err != nil {
		return models.ContentItem{}, fmt.Errorf("scan content item: %w", err)
	}
	return item, nil
}

// ListByTenant returns a tenant's items, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]models.ContentItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM content_queue
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tenant items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// DueItems returns pending items whose scheduled_for has passed, FIFO with
// schedule priority. Lease filtering happens in the dispatcher; eligibility
// here is purely state-derived so a missed poll loses nothing.
func (s *Store) DueItems(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM content_queue
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for, created_at
		LIMIT $3
	`, models.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ProcessingItems returns items currently marked processing. The dispatcher
// cross-checks these against live leases to reclaim work orphaned by a
// crashed runner.
func (s *Store) ProcessingItems(ctx context.Context, limit int) ([]models.ContentItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM content_queue
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2
	`, models.StatusProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("query processing items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountProcessingByTenant returns how many items each tenant currently has in
// processing, for the dispatcher's fairness cap.
func (s *Store) CountProcessingByTenant(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, COUNT(*) FROM content_queue
		WHERE status = $1
		GROUP BY tenant_id
	`, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("count processing: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tenant string
		var n int
		if err := rows.Scan(&tenant, &n); err != nil {
			return nil, fmt.Errorf("scan processing count: %w", err)
		}
		counts[tenant] = n
	}
	return counts, rows.Err()
}

// CASStatus atomically moves an item to a new status only if its current
// status is in the allowed set. Returns false when the guard did not match.
// This single check-and-set is the only way item status changes.
func (s *Store) CASStatus(ctx context.Context, id int64, from []models.Status, to models.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`, id, statusStrings(from), to)
	if err != nil {
		return false, fmt.Errorf("cas status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// BeginProcessing transitions pending -> processing for a freshly leased item.
func (s *Store) BeginProcessing(ctx context.Context, id int64) (bool, error) {
	return s.CASStatus(ctx, id, []models.Status{models.StatusPending}, models.StatusProcessing)
}

// AdvanceStep moves current_step forward by exactly one while the item is
// processing. The strict predecessor guard keeps progression monotonic even
// if a stale runner retries a step it already completed.
func (s *Store) AdvanceStep(ctx context.Context, id int64, next int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue
		SET current_step = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND current_step = $2 - 1
	`, id, next, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("advance step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkComplete finishes the item and records where it was published.
func (s *Store) MarkComplete(ctx context.Context, id int64, publishedURL string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue
		SET status = $2, published_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusComplete, publishedURL, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark complete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a processing or pending item to failed.
func (s *Store) MarkFailed(ctx context.Context, id int64) (bool, error) {
	return s.CASStatus(ctx, id, []models.Status{models.StatusProcessing, models.StatusPending}, models.StatusFailed)
}

// Approve clears the review gate: the item re-enters pending with approved_at
// set, and the dispatcher resumes it at the preserved step.
func (s *Store) Approve(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue
		SET status = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, models.StatusPending, statusStrings(models.AllowedFrom(models.TransitionApprove)))
	if err != nil {
		return false, fmt.Errorf("approve item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reschedule updates scheduled_for from any non-terminal, non-processing
// state.
func (s *Store) Reschedule(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_queue
		SET scheduled_for = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, at, statusStrings(models.AllowedFrom(models.TransitionReschedule)))
	if err != nil {
		return false, fmt.Errorf("reschedule item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RetryFrom re-queues a failed item. When fromStep is set, current_step is
// rewound and artifacts for the named steps are removed, so the executor
// rebuilds from there.
func (s *Store) RetryFrom(ctx context.Context, id int64, fromStep *int, invalidate []string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var tag pgconn.CommandTag
	if fromStep != nil {
		tag, err = tx.Exec(ctx, `
			UPDATE content_queue
			SET status = $2, current_step = $3, updated_at = NOW()
			WHERE id = $1 AND status = $4
		`, id, models.StatusPending, *fromStep, models.StatusFailed)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE content_queue
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`, id, models.StatusPending, models.StatusFailed)
	}
	if err != nil {
		return false, fmt.Errorf("retry item: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if len(invalidate) > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM artifacts WHERE queue_id = $1 AND step_name = ANY($2)
		`, id, invalidate); err != nil {
			return false, fmt.Errorf("invalidate artifacts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit retry: %w", err)
	}
	return true, nil
}

// DeleteItem hard-deletes an item together with its artifacts. agent_logs
// rows stay for cost analytics; the retention sweep ages them out. Returns
// false when the item was not in a deletable state.
func (s *Store) DeleteItem(ctx context.Context, id int64) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM content_queue WHERE id = $1 AND status <> $2
	`, id, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM artifacts WHERE queue_id = $1`, id); err != nil {
		return false, fmt.Errorf("delete artifacts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return true, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.ContentItem, error) {
	var item models.ContentItem
	var publishedURL pgtype.Text
	var approvedAt pgtype.Timestamptz

	err := row.Scan(&item.ID, &item.TenantID, &item.Title, &item.Status, &item.CurrentStep,
		&item.ScheduledFor, &publishedURL, &approvedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return models.ContentItem{}, err
	}

	if publishedURL.Valid {
		item.PublishedURL = &publishedURL.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		item.ApprovedAt = &t
	}
	return item, nil
}

func scanItems(rows pgx.Rows) ([]models.ContentItem, error) {
	var items []models.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
