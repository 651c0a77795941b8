package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"content-pipeline-engine/internal/models"
)

// AppendLog records one step attempt. Rows are immutable after insert and are
// retained independently of the content item for cost analytics.
func (s *Store) AppendLog(ctx context.Context, entry models.ExecutionLogEntry) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO agent_logs (queue_id, agent_name, duration_ms, token_usage, success, error_trace, reasoning_trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.QueueID, entry.AgentName, entry.DurationMS, entry.TokenUsage,
		entry.Success, entry.ErrorTrace, entry.ReasoningTrace); err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

// LogsForItem returns all attempts for one item in execution order.
func (s *Store) LogsForItem(ctx context.Context, queueID int64) ([]models.ExecutionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, queue_id, agent_name, duration_ms, token_usage, success, error_trace, reasoning_trace, created_at
		FROM agent_logs
		WHERE queue_id = $1
		ORDER BY id
	`, queueID)
	if err != nil {
		return nil, fmt.Errorf("query agent logs: %w", err)
	}
	defer rows.Close()

	var entries []models.ExecutionLogEntry
	for rows.Next() {
		var e models.ExecutionLogEntry
		var errTrace, reasoning pgtype.Text
		if err := rows.Scan(&e.ID, &e.QueueID, &e.AgentName, &e.DurationMS, &e.TokenUsage,
			&e.Success, &errTrace, &reasoning, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		if errTrace.Valid {
			e.ErrorTrace = &errTrace.String
		}
		if reasoning.Valid {
			e.ReasoningTrace = &reasoning.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeLogsBefore removes agent_logs rows older than the cutoff. Driven by
// the worker's retention cron.
func (s *Store) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM agent_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge agent logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
