package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

const sourceColumns = `id, twin_id, kind, title, label, status, staging, health, chunk_count,
	content, content_hash, metadata, error, deactivated_at, created_at, updated_at`

// CreateSource inserts a new source in pending status.
func (s *Store) CreateSource(ctx context.Context, src *types.Source) error {
	if src == nil {
		return storage.ErrInvalidInput
	}
	if src.ID == "" || src.TwinID == "" {
		return fmt.Errorf("%w: source ID and twin ID are required", storage.ErrInvalidInput)
	}
	if src.Status == "" {
		src.Status = types.SourceStatusPending
	}
	if src.Health == "" {
		src.Health = types.HealthRaw
	}
	now := time.Now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	if src.Content != "" {
		src.ContentHash = contentHash(src.Content)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, twin_id, kind, title, label, status, staging, health, chunk_count,
			content, content_hash, metadata, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.TwinID, string(src.Kind), src.Title, string(src.Label), string(src.Status),
		string(src.Staging), string(src.Health), src.ChunkCount, src.Content, src.ContentHash,
		marshalMetadata(src.Metadata), src.Error, formatTime(src.CreatedAt), formatTime(src.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: source %s already exists", storage.ErrConflict, src.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}

// GetSource retrieves a source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (*types.Source, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: source ID is required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ListSources lists a twin's sources with pagination. Content is omitted.
func (s *Store) ListSources(ctx context.Context, twinID string, opts storage.ListOptions) (*storage.PaginatedResult[types.Source], error) {
	opts.Normalize()

	where := `WHERE twin_id = ?`
	args := []interface{}{twinID}
	if opts.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if !opts.IncludeDeactivated {
		where += ` AND deactivated_at IS NULL`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM sources %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		sourceColumns, where, opts.SortBy, opts.SortOrder)
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	items := make([]types.Source, 0, opts.Limit)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.Content = ""
		items = append(items, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[types.Source]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// UpdateSourceStatus moves a source along its state machine. The update is a
// compare-and-swap against the status that was read.
func (s *Store) UpdateSourceStatus(ctx context.Context, id string, status types.SourceStatus, errMsg string) error {
	current, err := s.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status && status == types.SourceStatusFailed {
		// Recording a new error on an already failed source.
		_, err := s.db.ExecContext(ctx, `UPDATE sources SET error = ?, updated_at = ? WHERE id = ?`,
			errMsg, formatTime(time.Now()), id)
		return err
	}
	if err := types.CheckSourceTransition(current.Status, status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), errMsg, formatTime(time.Now()), id, string(current.Status))
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("source %s status changed concurrently", id))
}

// UpdateSourceContent stores extracted text and metadata.
func (s *Store) UpdateSourceContent(ctx context.Context, id, content string, metadata map[string]string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET content = ?, content_hash = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		content, contentHash(content), marshalMetadata(metadata), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update source content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkSourceLive flips a processing source to live. The guard clauses make the
// live invariant hold at the storage level: the source must have chunkCount > 0
// chunks and none of them may lack a vector reference.
func (s *Store) MarkSourceLive(ctx context.Context, id string, chunkCount int) error {
	if chunkCount <= 0 {
		return fmt.Errorf("%w: source %s has no chunks", types.ErrInvalidTransition, id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sources
		SET status = 'live',
			chunk_count = ?,
			staging = CASE WHEN staging = '' THEN 'processing' ELSE staging END,
			error = '',
			updated_at = ?
		WHERE id = ?
			AND status = 'processing'
			AND (SELECT COUNT(*) FROM chunks WHERE source_id = ?) = ?
			AND NOT EXISTS (SELECT 1 FROM chunks WHERE source_id = ? AND vector_ref = '')`,
		chunkCount, formatTime(time.Now()), id, id, chunkCount, id)
	if err != nil {
		return fmt.Errorf("failed to mark source live: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSource(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: source %s is not processing or has unindexed chunks", types.ErrInvalidTransition, id)
	}
	return nil
}

// UpdateStaging changes the owner review state.
func (s *Store) UpdateStaging(ctx context.Context, id string, staging types.StagingStatus) error {
	current, err := s.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if err := types.CheckStagingTransition(current.Staging, staging); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET staging = ?, updated_at = ? WHERE id = ? AND staging = ?`,
		string(staging), formatTime(time.Now()), id, string(current.Staging))
	if err != nil {
		return fmt.Errorf("failed to update staging: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("source %s staging changed concurrently", id))
}

// UpdateHealth records whether a concept graph was extracted.
func (s *Store) UpdateHealth(ctx context.Context, id string, health types.HealthStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET health = ?, updated_at = ? WHERE id = ?`,
		string(health), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeactivateSource soft-deletes a source.
func (s *Store) DeactivateSource(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET deactivated_at = ?, updated_at = ? WHERE id = ? AND deactivated_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSource(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSource hard-deletes a source; chunks cascade.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*types.Source, error) {
	var src types.Source
	var kind, label, status, staging, health, metadata, createdAt, updatedAt string
	var deactivatedAt sql.NullString

	err := row.Scan(&src.ID, &src.TwinID, &kind, &src.Title, &label, &status, &staging, &health,
		&src.ChunkCount, &src.Content, &src.ContentHash, &metadata, &src.Error,
		&deactivatedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	src.Kind = types.SourceKind(kind)
	src.Label = types.SourceLabel(label)
	if src.Status, err = types.ParseSourceStatus(status); err != nil {
		return nil, err
	}
	if src.Staging, err = types.ParseStagingStatus(staging); err != nil {
		return nil, err
	}
	if src.Health, err = types.ParseHealthStatus(health); err != nil {
		return nil, err
	}
	src.Metadata = unmarshalMetadata(metadata)
	src.DeactivatedAt = timePtr(deactivatedAt)
	src.CreatedAt = parseTime(createdAt)
	src.UpdatedAt = parseTime(updatedAt)
	return &src, nil
}

func contentHash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// expectOneRow converts a zero-row compare-and-swap into storage.ErrConflict.
func expectOneRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrConflict, msg)
	}
	return nil
}
