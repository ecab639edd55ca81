package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// SaveVerificationRun appends a run to the twin's history.
func (s *Store) SaveVerificationRun(ctx context.Context, run *types.VerificationRun) error {
	if run == nil || run.ID == "" || run.TwinID == "" {
		return fmt.Errorf("%w: run ID and twin ID are required", storage.ErrInvalidInput)
	}
	queries, err := json.Marshal(run.Queries)
	if err != nil {
		return fmt.Errorf("failed to encode queries: %w", err)
	}
	passed := 0
	if run.Passed {
		passed = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_runs (id, twin_id, queries, cited_queries, passed, ran_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.TwinID, string(queries), run.CitedQueries, passed, formatTime(run.RanAt))
	if err != nil {
		return fmt.Errorf("failed to save verification run: %w", err)
	}
	return nil
}

// ListVerificationRuns returns the most recent runs first.
func (s *Store) ListVerificationRuns(ctx context.Context, twinID string, limit int) ([]*types.VerificationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, twin_id, queries, cited_queries, passed, ran_at
		FROM verification_runs WHERE twin_id = ?
		ORDER BY ran_at DESC LIMIT ?`, twinID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.VerificationRun
	for rows.Next() {
		var run types.VerificationRun
		var queries, ranAt string
		var passed int
		if err := rows.Scan(&run.ID, &run.TwinID, &queries, &run.CitedQueries, &passed, &ranAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification run: %w", err)
		}
		if err := json.Unmarshal([]byte(queries), &run.Queries); err != nil {
			return nil, fmt.Errorf("failed to decode queries: %w", err)
		}
		run.Passed = passed == 1
		run.RanAt = parseTime(ranAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
