package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/twinrag/internal/storage"
)

// VectorStore is a brute-force cosine index stored next to the relational
// tables. It is meant for single-node deployments and tests; larger twins
// should use the pgvector or qdrant backends.
type VectorStore struct {
	db *sql.DB
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a vector store on an open database. The schema must
// already exist, which NewStore guarantees.
func NewVectorStore(db *sql.DB) *VectorStore {
	return &VectorStore{db: db}
}

// Upsert writes entries keyed by (namespace, chunk id).
func (v *VectorStore) Upsert(ctx context.Context, namespace string, entries []storage.VectorEntry) error {
	if namespace == "" {
		return fmt.Errorf("%w: namespace is required", storage.ErrInvalidInput)
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_entries (namespace, chunk_id, source_id, dimension, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, chunk_id) DO UPDATE SET
			source_id = excluded.source_id,
			dimension = excluded.dimension,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("failed to prepare vector upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.ChunkID == "" || len(e.Vector) == 0 {
			return fmt.Errorf("%w: chunk ID and vector are required", storage.ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx, namespace, e.ChunkID, e.SourceID, len(e.Vector), encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", e.ChunkID, err)
		}
	}
	return tx.Commit()
}

// Query ranks the namespace by cosine similarity to vector. Every vector of
// the namespace is scored; only the best topK are held in memory.
func (v *VectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]storage.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := v.db.QueryContext(ctx, `
		SELECT chunk_id, source_id, dimension, embedding FROM vector_entries
		WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer rows.Close()

	matches := make([]storage.VectorMatch, 0, topK)
	for rows.Next() {
		var m storage.VectorMatch
		var dim int
		var blob []byte
		if err := rows.Scan(&m.ChunkID, &m.SourceID, &dim, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		if dim != len(vector) {
			continue
		}
		stored, err := decodeVector(blob, dim)
		if err != nil {
			return nil, err
		}
		m.Score = cosineSimilarity(vector, stored)
		matches = insertTopK(matches, m, topK)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

// insertTopK inserts m into matches, which is ordered by score descending
// then chunk id, and keeps at most k entries.
func insertTopK(matches []storage.VectorMatch, m storage.VectorMatch, k int) []storage.VectorMatch {
	i := sort.Search(len(matches), func(i int) bool { return ranksBefore(m, matches[i]) })
	if i >= k {
		return matches
	}
	if len(matches) < k {
		matches = append(matches, storage.VectorMatch{})
	}
	copy(matches[i+1:], matches[i:len(matches)-1])
	matches[i] = m
	return matches
}

func ranksBefore(a, b storage.VectorMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ChunkID < b.ChunkID
}

// DeleteBySource removes every vector of a source.
func (v *VectorStore) DeleteBySource(ctx context.Context, namespace, sourceID string) error {
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM vector_entries WHERE namespace = ? AND source_id = ?`, namespace, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// Count returns the number of vectors in the namespace.
func (v *VectorStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_entries WHERE namespace = ?`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database belongs to the Store.
func (v *VectorStore) Close() error {
	return nil
}

// encodeVector serializes a vector as little-endian float32 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("vector size mismatch: expected %d bytes, got %d", dim*4, len(buf))
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
