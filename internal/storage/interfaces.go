// Package storage provides composable storage interfaces for twinrag.
//
// The storage layer is split into small, focused interfaces so that the
// relational state (sqlite), the vector index (sqlite, postgres/pgvector or
// qdrant) and the concept graph (sqlite or neo4j) can be backed independently.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/twinrag/pkg/types"
)

// TwinStore persists twins.
type TwinStore interface {
	CreateTwin(ctx context.Context, twin *types.Twin) error
	GetTwin(ctx context.Context, id string) (*types.Twin, error)
	ListTwins(ctx context.Context) ([]*types.Twin, error)
}

// SourceStore persists sources. Status changes go through UpdateSourceStatus,
// which enforces the source state machine against the stored row.
type SourceStore interface {
	// CreateSource inserts a new source. Returns ErrConflict if the id exists.
	CreateSource(ctx context.Context, src *types.Source) error

	// GetSource returns ErrNotFound if the source does not exist.
	GetSource(ctx context.Context, id string) (*types.Source, error)

	ListSources(ctx context.Context, twinID string, opts ListOptions) (*PaginatedResult[types.Source], error)

	// UpdateSourceStatus moves the source to status, recording errMsg (may be empty).
	// Returns types.ErrInvalidTransition when the stored status does not allow it.
	UpdateSourceStatus(ctx context.Context, id string, status types.SourceStatus, errMsg string) error

	// UpdateSourceContent stores the extracted text and its metadata.
	UpdateSourceContent(ctx context.Context, id, content string, metadata map[string]string) error

	// MarkSourceLive sets chunk_count, status=live and staging=processing in one
	// statement, and only if every chunk of the source has a vector reference.
	MarkSourceLive(ctx context.Context, id string, chunkCount int) error

	UpdateStaging(ctx context.Context, id string, staging types.StagingStatus) error
	UpdateHealth(ctx context.Context, id string, health types.HealthStatus) error

	// DeactivateSource soft-deletes a source (row kept, excluded from retrieval).
	DeactivateSource(ctx context.Context, id string) error

	// DeleteSource hard-deletes a source and its chunks.
	DeleteSource(ctx context.Context, id string) error
}

// ChunkStore persists chunk rows. Chunk text lives here; vectors live in a VectorStore.
type ChunkStore interface {
	// ReplaceChunks atomically supersedes the chunk set of a source.
	ReplaceChunks(ctx context.Context, sourceID string, chunks []*types.Chunk) error

	// ListChunks returns the chunks of a source ordered by sequence.
	ListChunks(ctx context.Context, sourceID string) ([]*types.Chunk, error)

	// GetChunks returns the chunks with the given ids, in no particular order.
	GetChunks(ctx context.Context, ids []string) ([]*types.Chunk, error)

	// SetVectorRefs records the vector reference of each chunk id.
	SetVectorRefs(ctx context.Context, refs map[string]string) error
}

// JobStore persists training jobs. Claim and finish operations are
// compare-and-swap on the status column.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.TrainingJob) error
	GetJob(ctx context.Context, id string) (*types.TrainingJob, error)
	ListJobs(ctx context.Context, twinID string, filter JobFilter) ([]*types.TrainingJob, error)

	// ListQueued returns up to limit queued jobs for a twin, highest priority first.
	ListQueued(ctx context.Context, twinID string, limit int) ([]*types.TrainingJob, error)

	// CountByStatus counts a twin's jobs in the given status.
	CountByStatus(ctx context.Context, twinID string, status types.JobStatus) (int, error)

	// TwinsWithQueuedJobs lists twin ids that have at least one queued job.
	TwinsWithQueuedJobs(ctx context.Context) ([]string, error)

	// ClaimJob moves a job from queued to processing. It returns ErrConflict
	// when another caller claimed it first.
	ClaimJob(ctx context.Context, id string, now time.Time) error

	// FinishJob moves a processing job to a terminal or failed status.
	// Returns ErrConflict if the job is no longer processing.
	FinishJob(ctx context.Context, id string, status types.JobStatus, errMsg, errClass string, now time.Time) error

	// RequeueJob moves a failed or needs_attention job back to queued and
	// increments its retry count. Returns ErrConflict if the status changed.
	RequeueJob(ctx context.Context, id string, from types.JobStatus, now time.Time) error

	// ListStuck returns processing jobs started before the cutoff.
	ListStuck(ctx context.Context, startedBefore time.Time) ([]*types.TrainingJob, error)

	// ListFailed returns failed jobs across twins with the given error class.
	ListFailed(ctx context.Context, errClass string, limit int) ([]*types.TrainingJob, error)
}

// GraphStore persists the concept graph of each twin.
type GraphStore interface {
	// UpsertNode inserts or merges a node by (twin, name, type) and returns its id.
	UpsertNode(ctx context.Context, node *types.GraphNode, sourceID string) (string, error)

	// UpsertEdge inserts an edge unless an identical (from, to, type) edge
	// exists, and records edge.SourceID as one of its sources either way.
	UpsertEdge(ctx context.Context, edge *types.GraphEdge) error

	// GetGraph returns up to limit nodes of the twin with the edges among them.
	GetGraph(ctx context.Context, twinID string, limit int) (*types.Graph, error)

	// FindNodesMentioned returns nodes whose name occurs in text.
	FindNodesMentioned(ctx context.Context, twinID, text string, limit int) ([]*types.GraphNode, error)

	// Neighborhood returns graph facts for the nodes and their 1-hop neighbours.
	Neighborhood(ctx context.Context, twinID string, nodeIDs []string, limit int) ([]types.GraphFact, error)

	GraphStats(ctx context.Context, twinID string) (types.GraphStats, error)

	// DeleteSourceGraph removes a source's contribution to the graph.
	DeleteSourceGraph(ctx context.Context, twinID, sourceID string) error
}

// MemoryStore persists owner memory records.
type MemoryStore interface {
	CreateMemory(ctx context.Context, rec *types.MemoryRecord) error
	ListMemories(ctx context.Context, twinID string, status types.MemoryStatus) ([]*types.MemoryRecord, error)
	UpdateMemoryStatus(ctx context.Context, id string, status types.MemoryStatus) error
}

// PublishStore persists publish allowlists and share tokens. Implementations
// must read through to storage on every call.
type PublishStore interface {
	GetAllowlist(ctx context.Context, twinID string) (*types.PublishAllowlist, error)
	SetAllowlist(ctx context.Context, list *types.PublishAllowlist) error
	IsPublished(ctx context.Context, twinID, sourceID string) (bool, error)

	CreateShareToken(ctx context.Context, tok *types.ShareToken) error
	GetShareToken(ctx context.Context, token string) (*types.ShareToken, error)
	RevokeShareToken(ctx context.Context, token string, at time.Time) error
}

// VerificationStore persists verification run history.
type VerificationStore interface {
	SaveVerificationRun(ctx context.Context, run *types.VerificationRun) error
	ListVerificationRuns(ctx context.Context, twinID string, limit int) ([]*types.VerificationRun, error)
}

// VectorStore is a namespaced vector index. The namespace is always a twin id
// and is the only isolation between twins.
type VectorStore interface {
	// Upsert writes entries keyed by chunk id; replaying an id overwrites it.
	Upsert(ctx context.Context, namespace string, entries []VectorEntry) error

	// Query returns up to topK nearest entries, highest score first.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]VectorMatch, error)

	// DeleteBySource removes every entry of a source.
	DeleteBySource(ctx context.Context, namespace, sourceID string) error

	// Count returns the number of entries in the namespace.
	Count(ctx context.Context, namespace string) (int, error)

	Close() error
}
