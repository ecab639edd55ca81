package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/storage/sqlite"
	"github.com/scrypster/twinrag/pkg/types"
)

// flakyEmbedder fails the first failures calls with err, then delegates.
type flakyEmbedder struct {
	inner    llm.EmbeddingGenerator
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) GetModel() string { return "flaky" }

func processingSource(t *testing.T, store *sqlite.Store, texts ...string) (*types.Source, []*types.Chunk) {
	t.Helper()
	ctx := context.Background()

	src := &types.Source{ID: "src-1", TwinID: "twin-1", Kind: types.SourceKindFile, Title: "Notes", Label: types.LabelKnowledge}
	require.NoError(t, store.CreateSource(ctx, src))
	require.NoError(t, store.UpdateSourceStatus(ctx, src.ID, types.SourceStatusProcessing, ""))

	chunks := BuildChunks(src, texts)
	require.NoError(t, store.ReplaceChunks(ctx, src.ID, chunks))
	return src, chunks
}

func newTestIndexer(t *testing.T, embedder llm.EmbeddingGenerator) (*Indexer, *sqlite.Store, *sqlite.VectorStore) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors := sqlite.NewVectorStore(store.GetDB())
	ix := NewIndexer(store, vectors, embedder, IndexerConfig{MaxAttempts: 3, Concurrency: 1})
	ix.sleep = func(context.Context, time.Duration) error { return nil }
	return ix, store, vectors
}

func TestIndexer_RetriesTransientFailures(t *testing.T) {
	embedder := &flakyEmbedder{
		inner:    llm.NewHashEmbedder(64),
		failures: 2,
		err:      errors.New("ollama returned status 503: overloaded"),
	}
	ix, store, vectors := newTestIndexer(t, embedder)
	ctx := context.Background()

	src, chunks := processingSource(t, store, "Sourdough needs a lively starter.")
	require.NoError(t, ix.Index(ctx, src, chunks))

	assert.Equal(t, int32(3), embedder.calls.Load())

	got, err := store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SourceStatusLive, got.Status)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, types.StagingProcessing, got.Staging)

	n, err := vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := store.ListChunks(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, stored[0].VectorRef)
}

func TestIndexer_TerminalErrorIsNotRetried(t *testing.T) {
	embedder := &flakyEmbedder{
		inner:    llm.NewHashEmbedder(64),
		failures: 10,
		err:      errors.New("openai returned status 400: bad input"),
	}
	ix, store, _ := newTestIndexer(t, embedder)
	ctx := context.Background()

	src, chunks := processingSource(t, store, "A chunk that will never be embedded.")
	err := ix.Index(ctx, src, chunks)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Terminal))
	assert.Equal(t, int32(1), embedder.calls.Load())

	got, err := store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SourceStatusProcessing, got.Status, "the caller decides the failed state")
}

func TestIndexer_ExhaustedAttemptsStayTransient(t *testing.T) {
	embedder := &flakyEmbedder{
		inner:    llm.NewHashEmbedder(64),
		failures: 10,
		err:      errors.New("request timeout"),
	}
	ix, store, vectors := newTestIndexer(t, embedder)
	ctx := context.Background()

	src, chunks := processingSource(t, store, "First chunk of text.", "Second chunk of text.")
	err := ix.Index(ctx, src, chunks)
	require.Error(t, err)
	assert.True(t, failure.IsRetryable(err))
	assert.Equal(t, int32(3), embedder.calls.Load(), "the first chunk exhausts its attempts and cancels the rest")

	n, err := vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexer_NoChunksIsTerminal(t *testing.T) {
	ix, store, _ := newTestIndexer(t, llm.NewHashEmbedder(64))
	src, _ := processingSource(t, store)

	err := ix.Index(context.Background(), src, nil)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Terminal))
}

func TestIndexer_ReindexRequiresLiveSource(t *testing.T) {
	ix, store, vectors := newTestIndexer(t, llm.NewHashEmbedder(64))
	ctx := context.Background()

	src, chunks := processingSource(t, store, "Reindex me.", "And me too.")
	_, err := ix.Reindex(ctx, src.ID)
	require.Error(t, err, "processing sources cannot be reindexed")

	require.NoError(t, ix.Index(ctx, src, chunks))
	require.NoError(t, vectors.DeleteBySource(ctx, "twin-1", src.ID))

	n, err := ix.Reindex(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
