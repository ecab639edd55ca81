// Package app assembles a twinrag instance from configuration: storage
// backends, provider clients, the ingest and retrieval services, the job
// queue and its scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/scrypster/twinrag/internal/config"
	"github.com/scrypster/twinrag/internal/engine"
	"github.com/scrypster/twinrag/internal/graph"
	"github.com/scrypster/twinrag/internal/importer"
	"github.com/scrypster/twinrag/internal/ingest"
	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/memory"
	"github.com/scrypster/twinrag/internal/retrieval"
	"github.com/scrypster/twinrag/internal/specialization"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/internal/storage/neo4jstore"
	"github.com/scrypster/twinrag/internal/storage/postgres"
	"github.com/scrypster/twinrag/internal/storage/qdrantstore"
	"github.com/scrypster/twinrag/internal/storage/sqlite"
	"github.com/scrypster/twinrag/pkg/types"
)

// MemoryDataPath keeps every table in memory. Used by tests.
const MemoryDataPath = ":memory:"

// App holds the wired components of one twinrag instance.
type App struct {
	Config *config.Config

	Store   *sqlite.Store
	Vectors storage.VectorStore
	Graph   storage.GraphStore

	Generator llm.TextGenerator
	Embedder  llm.EmbeddingGenerator

	Profiles  *specialization.Registry
	Ingest    *ingest.Service
	Importer  *importer.Importer
	Extractor *graph.Extractor
	Memory    *memory.Extractor
	Retrieval *retrieval.Service
	Readiness *retrieval.Checker
	Queue     *engine.Queue
	Scheduler *engine.Scheduler

	watcher *importer.Watcher
	closers []func() error
}

// New builds an App. Backends that need a server are connected here, so an
// unreachable postgres, qdrant or neo4j fails startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Profiles: specialization.NewRegistry()}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openProviders(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config.Storage

	dsn := MemoryDataPath
	if cfg.DataPath != MemoryDataPath {
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = filepath.Join(cfg.DataPath, "twinrag.db")
	}
	store, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	switch cfg.VectorBackend {
	case "postgres":
		vs, err := postgres.NewVectorStore(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		a.Vectors = vs
	case "qdrant":
		vs, err := qdrantstore.NewVectorStore(qdrantstore.Config{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantTLS,
		})
		if err != nil {
			return err
		}
		a.Vectors = vs
	default:
		a.Vectors = sqlite.NewVectorStore(store.GetDB())
	}
	// Runs before the store closes.
	a.closers = append([]func() error{a.Vectors.Close}, a.closers...)

	switch cfg.GraphBackend {
	case "neo4j":
		gs, err := neo4jstore.NewGraphStore(ctx, neo4jstore.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return err
		}
		a.Graph = gs
		a.closers = append([]func() error{func() error { return gs.Close(context.Background()) }}, a.closers...)
	default:
		a.Graph = store
	}

	log.Printf("app: storage ready (vectors: %s, graph: %s)", cfg.VectorBackend, cfg.GraphBackend)
	return nil
}

func (a *App) openProviders() error {
	cfg := a.Config.LLM
	gen, err := llm.NewTextGenerator(llm.ProviderConfig{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return err
	}
	emb, err := llm.NewEmbeddingGenerator(llm.ProviderConfig{
		Provider:  cfg.EmbeddingProvider,
		APIKey:    cfg.EmbeddingAPIKey,
		Model:     cfg.EmbeddingModel,
		BaseURL:   cfg.EmbeddingBaseURL,
		Timeout:   cfg.Timeout,
		Dimension: cfg.EmbeddingDimension,
	})
	if err != nil {
		return err
	}
	a.Generator, a.Embedder = gen, emb
	log.Printf("app: text provider %s, embedding provider %s", cfg.Provider, cfg.EmbeddingProvider)
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config

	extractor := ingest.NewExtractor(ingest.ExtractorConfig{
		FetchTimeout: cfg.Ingest.FetchTimeout,
		MaxBytes:     cfg.Ingest.MaxFetchBytes,
	})
	chunker := ingest.NewChunker(ingest.ChunkerConfig{
		MaxSize: cfg.Ingest.ChunkMaxSize,
		Overlap: cfg.Ingest.ChunkOverlap,
		MinSize: cfg.Ingest.ChunkMinSize,
	})
	indexer := ingest.NewIndexer(a.Store, a.Vectors, a.Embedder, ingest.IndexerConfig{
		EmbedTimeout: cfg.Ingest.EmbedTimeout,
		MaxAttempts:  cfg.Ingest.IndexMaxAttempts,
	})
	a.Ingest = ingest.NewService(a.Store, a.Vectors, a.Graph, extractor, chunker, indexer)
	a.Importer = importer.New(a.Ingest)

	a.Extractor = graph.NewExtractor(a.Store, a.Graph, a.Generator, cfg.LLM.Timeout)
	a.Extractor.SetPreamble(a.Profiles.PreambleFunc(a.Store))

	a.Memory = memory.NewExtractor(a.Store, a.Generator, cfg.LLM.Timeout)

	eng := retrieval.NewEngine(a.Store, a.Store, a.Vectors, a.Graph, a.Embedder, cfg.Ingest.QueryTimeout)
	a.Retrieval = retrieval.NewService(eng, a.Store, a.Store, a.Profiles)
	a.Readiness = retrieval.NewChecker(a.Retrieval, a.Vectors, a.Graph, a.Store)

	queue, err := engine.NewQueue(a.Store, engine.Config{
		Workers:      cfg.Jobs.Workers,
		BatchSize:    cfg.Jobs.BatchSize,
		MaxRetries:   cfg.Jobs.MaxRetries,
		BaseBackoff:  cfg.Jobs.BaseBackoff,
		JobTimeout:   cfg.Jobs.JobTimeout,
		StuckAfter:   cfg.Jobs.StuckAfter,
		TickInterval: cfg.Jobs.TickInterval,
	}, engine.Handlers{
		types.JobTypeIndexing:         engine.IndexingHandler(indexer),
		types.JobTypeGraphExtraction:  engine.GraphExtractionHandler(a.Extractor),
		types.JobTypeFeedbackLearning: engine.FeedbackLearningHandler(a.Memory),
		types.JobTypeHealthCheck:      engine.HealthCheckHandler(a.Readiness),
	})
	if err != nil {
		return err
	}
	a.Queue = queue
	a.closers = append([]func() error{func() error { queue.Close(); return nil }}, a.closers...)
	a.Ingest.SetJobEnqueuer(queue)

	a.Scheduler = engine.NewScheduler(queue, cfg.Jobs.TickInterval)
	return nil
}

// Start runs the scheduler when enabled and the import watcher when a watch
// directory is configured. Drains requested over HTTP work either way.
func (a *App) Start(ctx context.Context) error {
	if dir := a.Config.Ingest.WatchDir; dir != "" {
		if _, err := a.Store.GetTwin(ctx, a.Config.Ingest.WatchTwin); err != nil {
			return fmt.Errorf("watch twin %s: %w", a.Config.Ingest.WatchTwin, err)
		}
		a.watcher = importer.NewWatcher(a.Importer, a.Config.Ingest.WatchTwin, dir)
		if err := a.watcher.Start(ctx); err != nil {
			a.watcher = nil
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	if !a.Config.Jobs.SchedulerEnabled {
		log.Printf("app: scheduler disabled; jobs run on manual drains only")
		return nil
	}
	return a.Scheduler.Start(ctx)
}

// Close stops the scheduler and releases every backend, newest first.
func (a *App) Close() error {
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
