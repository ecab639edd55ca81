package qdrantstore

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/storage"
)

func TestCollectionName(t *testing.T) {
	v := &VectorStore{prefix: "twin_"}
	assert.Equal(t, "twin_abc_123", v.collection("abc-123"))
	assert.NotEqual(t, v.collection("a"), v.collection("b"))
}

// newTestVectorStore connects to QDRANT_TEST_HOST (port QDRANT_TEST_PORT,
// default 6334). Tests are skipped when the host is unset.
func newTestVectorStore(t *testing.T) *VectorStore {
	t.Helper()
	host := os.Getenv("QDRANT_TEST_HOST")
	if host == "" {
		t.Skip("QDRANT_TEST_HOST not set; skipping Qdrant integration tests")
	}
	port := 6334
	if p, err := strconv.Atoi(os.Getenv("QDRANT_TEST_PORT")); err == nil {
		port = p
	}
	v, err := NewVectorStore(Config{Host: host, Port: port, CollectionPrefix: "twinrag_test_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestVectorStore_Integration(t *testing.T) {
	v := newTestVectorStore(t)
	ctx := context.Background()
	ns := uuid.NewString()

	n, err := v.Count(ctx, ns)
	require.NoError(t, err)
	assert.Zero(t, n, "unknown namespace is empty")

	c1, c2 := uuid.NewString(), uuid.NewString()
	entries := []storage.VectorEntry{
		{ChunkID: c1, SourceID: "s1", Vector: []float32{1, 0, 0}},
		{ChunkID: c2, SourceID: "s2", Vector: []float32{0, 1, 0}},
	}
	require.NoError(t, v.Upsert(ctx, ns, entries))
	require.NoError(t, v.Upsert(ctx, ns, entries))

	n, err = v.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := v.Query(ctx, ns, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, c1, matches[0].ChunkID)
	assert.Equal(t, "s1", matches[0].SourceID)

	require.NoError(t, v.DeleteBySource(ctx, ns, "s1"))
	n, err = v.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, v.client.DeleteCollection(ctx, v.collection(ns)))
}
