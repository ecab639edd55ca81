package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/twinrag/pkg/types"
)

// ReplaceChunks supersedes a source's chunk set inside one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, sourceID string, chunks []*types.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_id, twin_id, seq, text, vector_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		if c.SourceID != sourceID {
			return fmt.Errorf("chunk %s belongs to source %s, not %s", c.ID, c.SourceID, sourceID)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourceID, c.TwinID, c.Seq, c.Text, c.VectorRef, formatTime(c.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// ListChunks returns a source's chunks ordered by sequence.
func (s *Store) ListChunks(ctx context.Context, sourceID string) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, twin_id, seq, text, vector_ref, created_at
		FROM chunks WHERE source_id = ? ORDER BY seq`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunks returns the chunks with the given ids.
func (s *Store) GetChunks(ctx context.Context, ids []string) ([]*types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, twin_id, seq, text, vector_ref, created_at
		FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SetVectorRefs records the vector reference of each chunk.
func (s *Store) SetVectorRefs(ctx context.Context, refs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for chunkID, ref := range refs {
		if _, err := tx.ExecContext(ctx, `UPDATE chunks SET vector_ref = ? WHERE id = ?`, ref, chunkID); err != nil {
			return fmt.Errorf("failed to set vector ref for %s: %w", chunkID, err)
		}
	}
	return tx.Commit()
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanChunks(rows rowsScanner) ([]*types.Chunk, error) {
	var chunks []*types.Chunk
	for rows.Next() {
		var c types.Chunk
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.TwinID, &c.Seq, &c.Text, &c.VectorRef, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
