package models

import (
	"time"
)

// ContentItem is one queued unit of work progressing through the pipeline.
type ContentItem struct {
	ID           int64      `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Title        string     `json:"title"`
	Status       Status     `json:"status"`
	CurrentStep  int        `json:"current_step"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	PublishedURL *string    `json:"published_url,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Artifact is the durable output of one step execution. Multiple rows may
// exist for the same (queue_id, step_name) across retries; the newest wins.
type Artifact struct {
	ID        int64          `json:"id"`
	QueueID   int64          `json:"queue_id"`
	StepName  string         `json:"step_name"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExecutionLogEntry records one step attempt. Rows are never mutated after
// insert and outlive their content item for cost analytics.
type ExecutionLogEntry struct {
	ID             int64     `json:"id"`
	QueueID        int64     `json:"queue_id"`
	AgentName      string    `json:"agent_name"`
	DurationMS     int64     `json:"duration_ms"`
	TokenUsage     int       `json:"token_usage"`
	Success        bool      `json:"success"`
	ErrorTrace     *string   `json:"error_trace,omitempty"`
	ReasoningTrace *string   `json:"reasoning_trace,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
