package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// IndexerConfig controls embedding calls.
type IndexerConfig struct {
	EmbedTimeout time.Duration // per call, default 30s
	MaxAttempts  int           // per chunk, default 3
	BaseBackoff  time.Duration // default 500ms, doubled per attempt
	Concurrency  int           // parallel embedding calls, default 4
	UpsertBatch  int           // vectors per Upsert, default 64
}

// IndexStore is the storage the indexer writes to.
type IndexStore interface {
	storage.SourceStore
	storage.ChunkStore
}

// Indexer embeds chunks and writes them to the vector store.
type Indexer struct {
	store    IndexStore
	vectors  storage.VectorStore
	embedder llm.EmbeddingGenerator
	cfg      IndexerConfig

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewIndexer creates an indexer.
func NewIndexer(store IndexStore, vectors storage.VectorStore, embedder llm.EmbeddingGenerator, cfg IndexerConfig) *Indexer {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = 64
	}
	return &Indexer{store: store, vectors: vectors, embedder: embedder, cfg: cfg, sleep: sleepCtx}
}

// Index embeds every chunk of a processing source, records the vector
// references and flips the source to live. Any error leaves the source in
// processing; the caller marks it failed.
func (ix *Indexer) Index(ctx context.Context, src *types.Source, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return failure.Terminalf("index", "source %s has no chunks", src.ID)
	}
	if err := ix.embedAndStore(ctx, src.TwinID, chunks); err != nil {
		return err
	}
	if err := ix.store.MarkSourceLive(ctx, src.ID, len(chunks)); err != nil {
		return fmt.Errorf("failed to mark source live: %w", err)
	}
	return nil
}

// Reindex re-embeds the stored chunks of a live source, for instance after
// the embedding model changed. Source status is not touched.
func (ix *Indexer) Reindex(ctx context.Context, sourceID string) (int, error) {
	src, err := ix.store.GetSource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if !src.IsRetrievable() {
		return 0, failure.Terminalf("reindex", "source %s is %s", src.ID, src.Status)
	}
	chunks, err := ix.store.ListChunks(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if err := ix.embedAndStore(ctx, src.TwinID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (ix *Indexer) embedAndStore(ctx context.Context, twinID string, chunks []*types.Chunk) error {
	entries := make([]storage.VectorEntry, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := ix.embedWithRetry(gctx, c.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", c.Seq, err)
			}
			entries[i] = storage.VectorEntry{ChunkID: c.ID, SourceID: c.SourceID, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for start := 0; start < len(entries); start += ix.cfg.UpsertBatch {
		end := start + ix.cfg.UpsertBatch
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		if err := ix.withRetry(ctx, "upsert vectors", func(ctx context.Context) error {
			return ix.vectors.Upsert(ctx, twinID, batch)
		}); err != nil {
			return err
		}
	}

	refs := make(map[string]string, len(chunks))
	for _, c := range chunks {
		refs[c.ID] = c.ID
	}
	if err := ix.store.SetVectorRefs(ctx, refs); err != nil {
		return fmt.Errorf("failed to record vector refs: %w", err)
	}
	return nil
}

func (ix *Indexer) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := ix.withRetry(ctx, "embed", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, ix.cfg.EmbedTimeout)
		defer cancel()
		v, err := ix.embedder.Embed(callCtx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	return vec, err
}

// withRetry retries fn on transient errors with exponential backoff. The
// last error is returned with its class preserved; exhausting the attempts
// keeps it transient so the job layer may retry later.
func (ix *Indexer) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= ix.cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		class := failure.ClassOf(err)
		if class != failure.Transient || attempt == ix.cfg.MaxAttempts {
			break
		}
		delay := ix.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
		log.Printf("WARNING: indexer: %s attempt %d/%d failed (%v), retrying in %s", op, attempt, ix.cfg.MaxAttempts, err, delay)
		if serr := ix.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return failure.New(failure.ClassOf(err), op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
