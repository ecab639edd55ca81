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

// CreateTwin inserts a twin. Returns storage.ErrConflict if the id exists.
func (s *Store) CreateTwin(ctx context.Context, twin *types.Twin) error {
	if twin == nil || twin.ID == "" {
		return fmt.Errorf("%w: twin ID is required", storage.ErrInvalidInput)
	}
	if twin.Specialization == "" {
		twin.Specialization = "general"
	}
	if twin.CreatedAt.IsZero() {
		twin.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO twins (id, name, specialization, created_at) VALUES (?, ?, ?, ?)`,
		twin.ID, twin.Name, twin.Specialization, formatTime(twin.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: twin %s already exists", storage.ErrConflict, twin.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create twin: %w", err)
	}
	return nil
}

// GetTwin returns storage.ErrNotFound if the twin does not exist.
func (s *Store) GetTwin(ctx context.Context, id string) (*types.Twin, error) {
	var twin types.Twin
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, specialization, created_at FROM twins WHERE id = ?`, id).
		Scan(&twin.ID, &twin.Name, &twin.Specialization, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get twin: %w", err)
	}
	twin.CreatedAt = parseTime(createdAt)
	return &twin, nil
}

// ListTwins returns every twin ordered by creation time.
func (s *Store) ListTwins(ctx context.Context) ([]*types.Twin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, specialization, created_at FROM twins ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list twins: %w", err)
	}
	defer rows.Close()

	var twins []*types.Twin
	for rows.Next() {
		var twin types.Twin
		var createdAt string
		if err := rows.Scan(&twin.ID, &twin.Name, &twin.Specialization, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan twin: %w", err)
		}
		twin.CreatedAt = parseTime(createdAt)
		twins = append(twins, &twin)
	}
	return twins, rows.Err()
}
