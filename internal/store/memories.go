package store

import (
	"context"
	"fmt"
	"time"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

var (
	_ memory.Storage         = (*Store)(nil)
	_ memory.ImportanceSaver = (*Store)(nil)
)

// Persist inserts rec. Re-persisting the same id is a no-op.
func (s *Store) Persist(ctx context.Context, rec *memory.Record) (string, error) {
	var importance *float64
	if v, ok := rec.Importance(); ok {
		importance = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (id, agent_id, content, type_code, created_at, importance)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID(), rec.AgentID(), rec.Content(), rec.Type().Code(), rec.CreatedAt(), importance,
	)
	if err != nil {
		return "", fmt.Errorf("insert memory %s: %w", rec.ID(), err)
	}
	return rec.ID(), nil
}

// FetchByAgent returns the agent's memories created inside r, oldest first.
func (s *Store) FetchByAgent(ctx context.Context, agentID string, r memory.TimeRange) ([]*memory.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, content, type_code, created_at, importance
		FROM memories
		WHERE agent_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at ASC, id ASC`,
		agentID, nullTime(r.From), nullTime(r.To))
	if err != nil {
		return nil, fmt.Errorf("query memories for %s: %w", agentID, err)
	}
	defer rows.Close()

	var records []*memory.Record
	for rows.Next() {
		var (
			id, content string
			code        int16
			createdAt   time.Time
			importance  *float64
		)
		if err := rows.Scan(&id, &content, &code, &createdAt, &importance); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		typ, err := memory.FromCode(int(code))
		if err != nil {
			return nil, fmt.Errorf("memory %s: %w", id, err)
		}
		rec, err := memory.Restore(id, agentID, content, typ, createdAt, importance)
		if err != nil {
			return nil, fmt.Errorf("memory %s: %w", id, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return records, nil
}

// SaveImportance stores a score for a record that has none yet.
func (s *Store) SaveImportance(ctx context.Context, id string, score float64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE memories SET importance = $2 WHERE id = $1::uuid AND importance IS NULL`,
		id, score)
	if err != nil {
		return fmt.Errorf("save importance %s: %w", id, err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
