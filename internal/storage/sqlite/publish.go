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

// GetAllowlist reads the publish allowlist of a twin. A twin that never
// published anything has an empty, non-nil allowlist.
func (s *Store) GetAllowlist(ctx context.Context, twinID string) (*types.PublishAllowlist, error) {
	list := &types.PublishAllowlist{TwinID: twinID, SourceIDs: []string{}, Topics: []string{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id FROM published_sources WHERE twin_id = ? ORDER BY source_id`, twinID)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowlist: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		list.SourceIDs = append(list.SourceIDs, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT topic FROM published_topics WHERE twin_id = ? ORDER BY topic`, twinID)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		list.Topics = append(list.Topics, topic)
	}
	return list, rows.Err()
}

// SetAllowlist replaces the allowlist of a twin.
func (s *Store) SetAllowlist(ctx context.Context, list *types.PublishAllowlist) error {
	if list == nil || list.TwinID == "" {
		return fmt.Errorf("%w: twin ID is required", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM published_sources WHERE twin_id = ?`, list.TwinID); err != nil {
		return fmt.Errorf("failed to clear allowlist: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM published_topics WHERE twin_id = ?`, list.TwinID); err != nil {
		return fmt.Errorf("failed to clear topics: %w", err)
	}
	for _, id := range list.SourceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO published_sources (twin_id, source_id) VALUES (?, ?)`, list.TwinID, id); err != nil {
			return fmt.Errorf("failed to publish source %s: %w", id, err)
		}
	}
	for _, topic := range list.Topics {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO published_topics (twin_id, topic) VALUES (?, ?)`, list.TwinID, topic); err != nil {
			return fmt.Errorf("failed to publish topic %s: %w", topic, err)
		}
	}
	return tx.Commit()
}

// IsPublished reports whether a source is on its twin's allowlist.
func (s *Store) IsPublished(ctx context.Context, twinID, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published_sources WHERE twin_id = ? AND source_id = ?`,
		twinID, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check allowlist: %w", err)
	}
	return n > 0, nil
}

// CreateShareToken stores a new share token.
func (s *Store) CreateShareToken(ctx context.Context, tok *types.ShareToken) error {
	if tok == nil || tok.Token == "" || tok.TwinID == "" {
		return fmt.Errorf("%w: token and twin ID are required", storage.ErrInvalidInput)
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO share_tokens (token, twin_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		tok.Token, tok.TwinID, formatTime(tok.CreatedAt), nullTime(tok.ExpiresAt))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create share token: %w", err)
	}
	return nil
}

// GetShareToken returns storage.ErrNotFound for unknown tokens. Validity is
// left to the caller.
func (s *Store) GetShareToken(ctx context.Context, token string) (*types.ShareToken, error) {
	var tok types.ShareToken
	var createdAt string
	var expiresAt, revokedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT token, twin_id, created_at, expires_at, revoked_at FROM share_tokens WHERE token = ?`, token).
		Scan(&tok.Token, &tok.TwinID, &createdAt, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share token: %w", err)
	}
	tok.CreatedAt = parseTime(createdAt)
	tok.ExpiresAt = timePtr(expiresAt)
	tok.RevokedAt = timePtr(revokedAt)
	return &tok, nil
}

// RevokeShareToken marks a token revoked. Revoking twice keeps the first time.
func (s *Store) RevokeShareToken(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE share_tokens SET revoked_at = COALESCE(revoked_at, ?) WHERE token = ?`,
		formatTime(at), token)
	if err != nil {
		return fmt.Errorf("failed to revoke share token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
