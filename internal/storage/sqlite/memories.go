package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// CreateMemory persists an owner belief.
func (s *Store) CreateMemory(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" || rec.TwinID == "" {
		return fmt.Errorf("%w: memory ID and twin ID are required", storage.ErrInvalidInput)
	}
	if _, err := types.ParseMemoryType(string(rec.Type)); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if rec.Status == "" {
		rec.Status = types.MemoryStatusProposed
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, twin_id, type, content, confidence, source_type, session_id,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TwinID, string(rec.Type), rec.Content, rec.Confidence, rec.SourceType,
		rec.SessionID, string(rec.Status), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: memory %s already exists", storage.ErrConflict, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create memory: %w", err)
	}
	return nil
}

// ListMemories lists a twin's memory records; an empty status lists all.
func (s *Store) ListMemories(ctx context.Context, twinID string, status types.MemoryStatus) ([]*types.MemoryRecord, error) {
	query := `
		SELECT id, twin_id, type, content, confidence, source_type, session_id, status, created_at, updated_at
		FROM memory_records WHERE twin_id = ?`
	args := []interface{}{twinID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryRecord
	for rows.Next() {
		var rec types.MemoryRecord
		var memType, memStatus, createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.TwinID, &memType, &rec.Content, &rec.Confidence,
			&rec.SourceType, &rec.SessionID, &memStatus, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		rec.Type = types.MemoryType(memType)
		rec.Status = types.MemoryStatus(memStatus)
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpdateMemoryStatus records the owner's review decision.
func (s *Store) UpdateMemoryStatus(ctx context.Context, id string, status types.MemoryStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM memory_records WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read memory: %w", err)
	}
	if !types.CanTransitionMemory(types.MemoryStatus(current), status) {
		return fmt.Errorf("%w: memory %s -> %s", types.ErrInvalidTransition, current, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), formatTime(time.Now()), id, current)
	if err != nil {
		return fmt.Errorf("failed to update memory status: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("memory %s status changed concurrently", id))
}
