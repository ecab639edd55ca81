package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/internal/storage/postgres"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestVectorStore(t *testing.T) *postgres.VectorStore {
	t.Helper()

	store, err := postgres.NewVectorStore(postgresTestDSN(t))
	require.NoError(t, err, "NewVectorStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestVectorStore_UpsertQueryDelete(t *testing.T) {
	store := newTestVectorStore(t)
	ctx := context.Background()

	entries := []storage.VectorEntry{
		{ChunkID: "c1", SourceID: "s1", Vector: []float32{1, 0, 0}},
		{ChunkID: "c2", SourceID: "s2", Vector: []float32{0, 1, 0}},
	}
	require.NoError(t, store.Upsert(ctx, "twin-a", entries))
	require.NoError(t, store.Upsert(ctx, "twin-a", entries[:1]))
	require.NoError(t, store.Upsert(ctx, "twin-b", entries[:1]))

	n, err := store.Count(ctx, "twin-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := store.Query(ctx, "twin-a", []float32{1, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c1", matches[0].ChunkID)
	assert.Greater(t, matches[0].Score, 0.9)

	require.NoError(t, store.DeleteBySource(ctx, "twin-a", "s1"))
	n, err = store.Count(ctx, "twin-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Count(ctx, "twin-b")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "deleting in one namespace must not touch another")
}
