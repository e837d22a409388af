package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ToolCall is one recorded tools/call invocation, persisted for
// `GET /api/tools/history`. Routing/health metrics stay in-memory; call
// history is an audit record, not a routing metric, so it persists.
type ToolCall struct {
	ID         int64
	InstanceID string
	Template   string
	ToolName   string
	APIKeyID   sql.NullString
	Success    bool
	LatencyMs  float64
	CalledAt   time.Time
}

// RecordToolCall inserts a tool-call history row.
func (s *Store) RecordToolCall(ctx context.Context, c *ToolCall) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (instance_id, template, tool_name, apikey_id, success, latency_ms, called_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.InstanceID, c.Template, c.ToolName, c.APIKeyID, c.Success, c.LatencyMs, c.CalledAt)
	if err != nil {
		return fmt.Errorf("record tool call: %w", err)
	}
	return nil
}

// ToolCallHistory returns the most recent tool calls, newest first, capped
// at limit (defaults to 100).
func (s *Store) ToolCallHistory(ctx context.Context, limit int) ([]*ToolCall, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, template, tool_name, apikey_id, success, latency_ms, called_at
		FROM tool_calls ORDER BY called_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool call history: %w", err)
	}
	defer rows.Close()

	var out []*ToolCall
	for rows.Next() {
		c := &ToolCall{}
		if err := rows.Scan(&c.ID, &c.InstanceID, &c.Template, &c.ToolName, &c.APIKeyID, &c.Success, &c.LatencyMs, &c.CalledAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
