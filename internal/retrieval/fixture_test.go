package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/specialization"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/internal/storage/sqlite"
	"github.com/scrypster/twinrag/pkg/types"
)

type fixture struct {
	store    *sqlite.Store
	vectors  *sqlite.VectorStore
	embedder *llm.HashEmbedder
	engine   *Engine
	service  *Service
	checker  *Checker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateTwin(ctx, &types.Twin{ID: "twin-1", Name: "Baker", Specialization: "expert"}))
	require.NoError(t, store.CreateTwin(ctx, &types.Twin{ID: "twin-2", Name: "Other"}))

	f := &fixture{
		store:    store,
		vectors:  sqlite.NewVectorStore(store.GetDB()),
		embedder: llm.NewHashEmbedder(256),
	}
	f.engine = NewEngine(store, store, f.vectors, store, f.embedder, 0)
	f.service = NewService(f.engine, store, store, specialization.NewRegistry())
	f.checker = NewChecker(f.service, f.vectors, store, store)
	return f
}

// seed stores a live source with one chunk per text and indexes every chunk.
func (f *fixture) seed(t *testing.T, twinID, sourceID string, texts ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.CreateSource(ctx, &types.Source{
		ID: sourceID, TwinID: twinID, Kind: types.SourceKindFile, Title: sourceID, Label: types.LabelKnowledge,
	}))
	require.NoError(t, f.store.UpdateSourceStatus(ctx, sourceID, types.SourceStatusProcessing, ""))

	chunks := make([]*types.Chunk, len(texts))
	entries := make([]storage.VectorEntry, len(texts))
	for i, text := range texts {
		id := fmt.Sprintf("%s-c%d", sourceID, i)
		chunks[i] = &types.Chunk{ID: id, SourceID: sourceID, TwinID: twinID, Seq: i, Text: text, VectorRef: id}
		vec, err := f.embedder.Embed(ctx, text)
		require.NoError(t, err)
		entries[i] = storage.VectorEntry{ChunkID: id, SourceID: sourceID, Vector: vec}
	}
	require.NoError(t, f.store.ReplaceChunks(ctx, sourceID, chunks))
	require.NoError(t, f.vectors.Upsert(ctx, twinID, entries))
	require.NoError(t, f.store.MarkSourceLive(ctx, sourceID, len(texts)))
}

func (f *fixture) publish(t *testing.T, twinID string, sourceIDs ...string) {
	t.Helper()
	require.NoError(t, f.store.SetAllowlist(context.Background(), &types.PublishAllowlist{
		TwinID:    twinID,
		SourceIDs: sourceIDs,
	}))
}

func citedSources(cs []types.Citation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.SourceID
	}
	return out
}
