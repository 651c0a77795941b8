package store

import (
	"context"
	"encoding/json"
	"fmt"

	"content-pipeline-engine/internal/models"
)

// SaveArtifact appends the structured output of one step execution. Rows are
// append-only; retries produce additional rows and the newest wins.
func (s *Store) SaveArtifact(ctx context.Context, queueID int64, stepName string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal artifact data: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (queue_id, step_name, data)
		VALUES ($1, $2, $3)
	`, queueID, stepName, payload); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// LatestArtifacts returns the authoritative (most recent) artifact per step
// for one item.
func (s *Store) LatestArtifacts(ctx context.Context, queueID int64) (map[string]models.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (step_name) id, queue_id, step_name, data, created_at
		FROM artifacts
		WHERE queue_id = $1
		ORDER BY step_name, id DESC
	`, queueID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Artifact)
	for rows.Next() {
		var a models.Artifact
		var payload []byte
		if err := rows.Scan(&a.ID, &a.QueueID, &a.StepName, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if err := json.Unmarshal(payload, &a.Data); err != nil {
			return nil, fmt.Errorf("unmarshal artifact data: %w", err)
		}
		out[a.StepName] = a
	}
	return out, rows.Err()
}
