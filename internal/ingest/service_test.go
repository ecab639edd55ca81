package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/internal/storage/sqlite"
	"github.com/scrypster/twinrag/pkg/types"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*types.TrainingJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job *types.TrainingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *types.TrainingJob) error {
	return errors.New("queue down")
}

type serviceFixture struct {
	svc     *Service
	store   *sqlite.Store
	vectors *sqlite.VectorStore
	queue   *recordingQueue

	mu     sync.Mutex
	events []SourceEvent
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateTwin(ctx, &types.Twin{ID: "twin-1", Name: "Baker"}))

	vectors := sqlite.NewVectorStore(store.GetDB())
	embedder := llm.NewHashEmbedder(64)
	chunker := NewChunker(ChunkerConfig{MaxSize: 120, Overlap: -1, MinSize: 20})
	indexer := NewIndexer(store, vectors, embedder, IndexerConfig{})

	f := &serviceFixture{
		store:   store,
		vectors: vectors,
		queue:   &recordingQueue{},
	}
	f.svc = NewService(store, vectors, store, NewExtractor(ExtractorConfig{}), chunker, indexer)
	f.svc.SetJobEnqueuer(f.queue)
	f.svc.SetEventHandler(func(ev SourceEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})
	return f
}

func textFile(name, body string) Input {
	return Input{Kind: types.SourceKindFile, Filename: name, Data: []byte(body)}
}

const breadNotes = `Sourdough bread relies on a wild yeast starter that must be fed daily.
A young starter smells sharp and yeasty, while an old one turns sour and slow.

Bulk fermentation takes four to six hours at room temperature for most doughs.
Cold retarding overnight in the fridge deepens flavour and makes scoring easier.

Bake in a preheated dutch oven at high heat with the lid on for the first twenty minutes.`

func TestService_IngestGoesLive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("bread-notes.txt", breadNotes)})
	require.NoError(t, err)

	assert.Equal(t, types.SourceStatusLive, src.Status)
	assert.Equal(t, types.StagingProcessing, src.Staging)
	assert.Equal(t, types.LabelKnowledge, src.Label)
	assert.Equal(t, "bread notes", src.Title)
	assert.Empty(t, src.Error)
	require.Greater(t, src.ChunkCount, 1)

	chunks, err := f.store.ListChunks(ctx, src.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, src.ChunkCount)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.NotEmpty(t, c.VectorRef)
	}

	n, err := f.vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Equal(t, src.ChunkCount, n)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events)
	assert.Equal(t, types.SourceStatusPending, f.events[0].Status)
	assert.Equal(t, types.SourceStatusLive, f.events[len(f.events)-1].Status)
}

func TestService_IdentityRequiresConfirmation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{
		TwinID: "twin-1",
		Label:  types.LabelIdentity,
		Input:  textFile("about-me.txt", breadNotes),
	})
	require.Error(t, err)
	assert.Nil(t, src)
	assert.True(t, failure.Is(err, failure.PolicyRejection))
	assert.True(t, errors.Is(err, ErrIdentityNotConfirmed))

	page, err := f.store.ListSources(ctx, "twin-1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "a rejected request leaves no source behind")

	src, err = f.svc.Ingest(ctx, Request{
		TwinID:    "twin-1",
		Label:     types.LabelIdentity,
		Confirmed: true,
		Input:     textFile("about-me.txt", breadNotes),
	})
	require.NoError(t, err)
	assert.Equal(t, types.LabelIdentity, src.Label)
}

func TestService_RejectsInvalidRequests(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Label: "secret", Input: textFile("a.txt", breadNotes)})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: Input{Kind: "fax"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = f.svc.Ingest(ctx, Request{TwinID: "nobody", Input: textFile("a.txt", breadNotes)})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_ReingestSupersedesChunks(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("bread.txt", breadNotes)})
	require.NoError(t, err)
	before, err := f.store.ListChunks(ctx, src.ID)
	require.NoError(t, err)

	replacement := "Rye bread needs a denser starter and a much longer proof than wheat."
	again, err := f.svc.Reingest(ctx, src.ID, textFile("bread.txt", replacement))
	require.NoError(t, err)
	assert.Equal(t, src.ID, again.ID)
	assert.Equal(t, types.SourceStatusLive, again.Status)
	assert.Equal(t, 1, again.ChunkCount)

	after, err := f.store.ListChunks(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, replacement, after[0].Text)
	for _, old := range before {
		assert.NotEqual(t, old.ID, after[0].ID)
	}

	n, err := f.vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "superseded vectors are removed")
}

func TestService_ReingestFromStoredContent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("bread.txt", breadNotes)})
	require.NoError(t, err)

	again, err := f.svc.Reingest(ctx, src.ID, Input{})
	require.NoError(t, err)
	assert.Equal(t, src.ChunkCount, again.ChunkCount)
}

func TestService_FailedExtractionMarksSourceFailed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{
		TwinID: "twin-1",
		Input:  Input{Kind: types.SourceKindFile, Filename: "photo.png", Data: []byte{0x89, 'P', 'N', 'G'}},
	})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Terminal))
	require.NotNil(t, src)
	assert.Equal(t, types.SourceStatusFailed, src.Status)
	assert.Contains(t, src.Error, "unsupported format")

	stored, err := f.store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SourceStatusFailed, stored.Status)
	assert.Zero(t, stored.ChunkCount)

	// Re-extraction under the same id recovers the source.
	again, err := f.svc.Reingest(ctx, src.ID, textFile("photo.txt", breadNotes))
	require.NoError(t, err)
	assert.Equal(t, types.SourceStatusLive, again.Status)
	assert.Empty(t, again.Error)
}

func TestService_ContentTooShortFails(t *testing.T) {
	f := newServiceFixture(t)

	src, err := f.svc.Ingest(context.Background(), Request{TwinID: "twin-1", Input: textFile("tiny.txt", "ok")})
	require.Error(t, err)
	require.NotNil(t, src)
	assert.Equal(t, types.SourceStatusFailed, src.Status)
	assert.True(t, strings.Contains(src.Error, "shorter than"))
}

func TestService_ApproveAndReject(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("a.txt", breadNotes)})
	require.NoError(t, err)
	b, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("b.txt", breadNotes)})
	require.NoError(t, err)

	job, err := f.svc.Approve(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobTypeIndexing, job.Type)
	assert.Equal(t, a.ID, job.SourceID)
	require.Len(t, f.queue.jobs, 1)

	got, err := f.store.GetSource(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StagingApproved, got.Staging)

	require.NoError(t, f.svc.Reject(ctx, b.ID))
	got, err = f.store.GetSource(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StagingRejected, got.Staging)
	assert.True(t, got.IsRetrievable(), "rejection does not remove the source from retrieval")

	err = f.svc.Reject(ctx, a.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestService_ApproveKeepsStagingWhenEnqueueFails(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("a.txt", breadNotes)})
	require.NoError(t, err)

	f.svc.SetJobEnqueuer(failingQueue{})
	_, err = f.svc.Approve(ctx, src.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue down")

	got, err := f.store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StagingProcessing, got.Staging)

	f.svc.SetJobEnqueuer(f.queue)
	job, err := f.svc.Approve(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.ID, job.SourceID)
	got, err = f.store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StagingApproved, got.Staging)

	_, err = f.svc.Approve(ctx, src.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Len(t, f.queue.jobs, 1, "a rejected transition queues nothing")
}

func TestService_IngestRefusesDeactivatedSourceID(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	src, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("public.txt", breadNotes)})
	require.NoError(t, err)
	require.NoError(t, f.store.SetAllowlist(ctx, &types.PublishAllowlist{TwinID: "twin-1", SourceIDs: []string{src.ID}}))
	soft, err := f.svc.Deactivate(ctx, src.ID)
	require.NoError(t, err)
	require.True(t, soft)

	_, err = f.svc.Ingest(ctx, Request{TwinID: "twin-1", SourceID: src.ID, Input: textFile("public.txt", breadNotes+"\nMore notes.")})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	got, err := f.store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeactivatedAt)
	assert.False(t, got.IsRetrievable())
	n, err := f.vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_EnqueueGraphExtractionRequiresLiveSource(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	failed, _ := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("tiny.txt", "ok")})
	require.NotNil(t, failed)
	_, err := f.svc.EnqueueGraphExtraction(ctx, failed.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	live, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("a.txt", breadNotes)})
	require.NoError(t, err)
	job, err := f.svc.EnqueueGraphExtraction(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobTypeGraphExtraction, job.Type)
}

func TestService_DeactivateSoftForPublishedSources(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	published, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("public.txt", breadNotes)})
	require.NoError(t, err)
	private, err := f.svc.Ingest(ctx, Request{TwinID: "twin-1", Input: textFile("private.txt", breadNotes)})
	require.NoError(t, err)

	require.NoError(t, f.store.SetAllowlist(ctx, &types.PublishAllowlist{TwinID: "twin-1", SourceIDs: []string{published.ID}}))

	soft, err := f.svc.Deactivate(ctx, published.ID)
	require.NoError(t, err)
	assert.True(t, soft)
	kept, err := f.store.GetSource(ctx, published.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept.DeactivatedAt)
	assert.False(t, kept.IsRetrievable())

	soft, err = f.svc.Deactivate(ctx, private.ID)
	require.NoError(t, err)
	assert.False(t, soft)
	_, err = f.store.GetSource(ctx, private.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := f.vectors.Count(ctx, "twin-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.Reingest(ctx, published.ID, Input{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
