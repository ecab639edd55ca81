package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// ErrIdentityNotConfirmed is the policy rejection for identity-labelled
// content submitted without explicit owner confirmation.
var ErrIdentityNotConfirmed = errors.New("identity sources require explicit confirmation")

// Store is the relational storage the ingest service needs.
type Store interface {
	storage.TwinStore
	storage.SourceStore
	storage.ChunkStore
	storage.PublishStore
}

// JobEnqueuer accepts training jobs. The engine queue implements it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *types.TrainingJob) error
}

// SourceEvent reports a source lifecycle change.
type SourceEvent struct {
	TwinID   string              `json:"twin_id"`
	SourceID string              `json:"source_id"`
	Status   types.SourceStatus  `json:"status"`
	Staging  types.StagingStatus `json:"staging,omitempty"`
	Error    string              `json:"error,omitempty"`
	Deleted  bool                `json:"deleted,omitempty"`
}

// Request is one ingestion request.
type Request struct {
	TwinID string
	// SourceID reuses an existing source (re-extraction) or fixes the id of a
	// new one. Empty generates a new id.
	SourceID  string
	Title     string
	Label     types.SourceLabel
	Confirmed bool
	Input     Input
}

// Service runs the source lifecycle: extract, chunk, index, review and removal.
type Service struct {
	store     Store
	vectors   storage.VectorStore
	graph     storage.GraphStore
	extractor *Extractor
	chunker   *Chunker
	indexer   *Indexer

	jobs    JobEnqueuer
	onEvent func(SourceEvent)
}

// NewService creates an ingest service.
func NewService(store Store, vectors storage.VectorStore, graph storage.GraphStore, extractor *Extractor, chunker *Chunker, indexer *Indexer) *Service {
	return &Service{
		store:     store,
		vectors:   vectors,
		graph:     graph,
		extractor: extractor,
		chunker:   chunker,
		indexer:   indexer,
	}
}

// SetJobEnqueuer wires the job queue used by Approve and EnqueueGraphExtraction.
func (s *Service) SetJobEnqueuer(q JobEnqueuer) { s.jobs = q }

// SetEventHandler registers a callback for source lifecycle events.
func (s *Service) SetEventHandler(fn func(SourceEvent)) { s.onEvent = fn }

// Ingest creates (or reuses) a source and runs it through extraction,
// chunking and indexing. Policy and validation errors are returned before
// any source exists. Pipeline errors return the failed source together with
// the error.
func (s *Service) Ingest(ctx context.Context, req Request) (*types.Source, error) {
	if req.Label == "" {
		req.Label = types.LabelKnowledge
	}
	if _, err := types.ParseSourceLabel(string(req.Label)); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if _, err := types.ParseSourceKind(string(req.Input.Kind)); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if req.Label == types.LabelIdentity && !req.Confirmed {
		return nil, failure.New(failure.PolicyRejection, "ingest", ErrIdentityNotConfirmed)
	}
	if _, err := s.store.GetTwin(ctx, req.TwinID); err != nil {
		return nil, fmt.Errorf("twin %s: %w", req.TwinID, err)
	}

	if req.SourceID != "" {
		existing, err := s.store.GetSource(ctx, req.SourceID)
		switch {
		case err == nil:
			if existing.TwinID != req.TwinID {
				return nil, fmt.Errorf("%w: source %s belongs to another twin", storage.ErrInvalidInput, req.SourceID)
			}
			if existing.DeactivatedAt != nil {
				return nil, fmt.Errorf("%w: source %s is deactivated", storage.ErrInvalidInput, req.SourceID)
			}
			return s.run(ctx, existing, req.Input)
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}

	src := &types.Source{
		ID:     req.SourceID,
		TwinID: req.TwinID,
		Kind:   req.Input.Kind,
		Title:  defaultTitle(req),
		Label:  req.Label,
		Status: types.SourceStatusPending,
		Health: types.HealthRaw,
	}
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return nil, err
	}
	s.emit(src, false)
	return s.run(ctx, src, req.Input)
}

// Reingest re-runs the pipeline for an existing source under the same id,
// superseding its chunks and vectors. An empty input re-extracts from the
// stored URL or content.
func (s *Service) Reingest(ctx context.Context, sourceID string, in Input) (*types.Source, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.DeactivatedAt != nil {
		return nil, fmt.Errorf("%w: source %s is deactivated", storage.ErrInvalidInput, sourceID)
	}
	if in.Kind == "" {
		in, err = storedInput(src)
		if err != nil {
			return nil, err
		}
	}
	return s.run(ctx, src, in)
}

func storedInput(src *types.Source) (Input, error) {
	if src.Kind == types.SourceKindURL && src.Metadata["url"] != "" {
		return Input{Kind: types.SourceKindURL, URL: src.Metadata["url"]}, nil
	}
	if src.Content == "" {
		return Input{}, fmt.Errorf("%w: source %s has no stored content to re-extract", storage.ErrInvalidInput, src.ID)
	}
	return Input{Kind: types.SourceKindFile, Filename: "content.txt", Data: []byte(src.Content)}, nil
}

// run moves src to processing and executes extract, chunk and index.
func (s *Service) run(ctx context.Context, src *types.Source, in Input) (*types.Source, error) {
	if err := s.store.UpdateSourceStatus(ctx, src.ID, types.SourceStatusProcessing, ""); err != nil {
		return nil, err
	}
	src.Status = types.SourceStatusProcessing

	start := time.Now()
	ex, err := s.extractor.Extract(ctx, in)
	if err != nil {
		return s.fail(ctx, src, err)
	}
	if ex.Title != "" {
		ex.Metadata["title"] = ex.Title
	}
	if err := s.store.UpdateSourceContent(ctx, src.ID, ex.Text, ex.Metadata); err != nil {
		return s.fail(ctx, src, err)
	}

	texts := s.chunker.Split(ex.Text)
	if len(texts) == 0 {
		return s.fail(ctx, src, failure.Terminalf("chunk", "content is shorter than %d characters", s.chunker.Config().MinSize))
	}
	chunks := BuildChunks(src, texts)

	// Supersede: old vectors go first so no vector outlives its chunk.
	if err := s.vectors.DeleteBySource(ctx, src.TwinID, src.ID); err != nil {
		return s.fail(ctx, src, err)
	}
	if err := s.store.ReplaceChunks(ctx, src.ID, chunks); err != nil {
		return s.fail(ctx, src, err)
	}
	if err := s.indexer.Index(ctx, src, chunks); err != nil {
		return s.fail(ctx, src, err)
	}

	live, err := s.store.GetSource(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("ingest: source %s live with %d chunks in %s", live.ID, live.ChunkCount, time.Since(start).Round(time.Millisecond))
	s.emit(live, false)
	return live, nil
}

// fail records cause on the source and returns the failed source with cause.
func (s *Service) fail(ctx context.Context, src *types.Source, cause error) (*types.Source, error) {
	log.Printf("WARNING: ingest: source %s failed (%s): %v", src.ID, failure.ClassOf(cause), cause)
	if err := s.store.UpdateSourceStatus(ctx, src.ID, types.SourceStatusFailed, cause.Error()); err != nil {
		log.Printf("ERROR: ingest: failed to mark source %s failed: %v", src.ID, err)
		return nil, cause
	}
	failed, err := s.store.GetSource(ctx, src.ID)
	if err != nil {
		return nil, cause
	}
	s.emit(failed, false)
	return failed, cause
}

// Approve queues an indexing job and then moves staging from processing to
// approved. Approved is terminal, so staging only advances once the job is
// accepted; a failed enqueue leaves the source in processing.
func (s *Service) Approve(ctx context.Context, sourceID string) (*types.TrainingJob, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := types.CheckStagingTransition(src.Staging, types.StagingApproved); err != nil {
		return nil, err
	}
	job, err := s.enqueue(ctx, src, types.JobTypeIndexing, 5)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", sourceID, err)
	}
	if err := s.store.UpdateStaging(ctx, sourceID, types.StagingApproved); err != nil {
		// Indexing is idempotent per source, so the queued job is harmless.
		log.Printf("WARNING: approve %s: job %s queued but staging not updated: %v", sourceID, job.ID, err)
		return nil, err
	}
	src.Staging = types.StagingApproved
	s.emit(src, false)
	return job, nil
}

// Reject moves staging from processing to rejected.
func (s *Service) Reject(ctx context.Context, sourceID string) error {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateStaging(ctx, sourceID, types.StagingRejected); err != nil {
		return err
	}
	src.Staging = types.StagingRejected
	s.emit(src, false)
	return nil
}

// EnqueueGraphExtraction queues an explicit graph extraction for a live source.
func (s *Service) EnqueueGraphExtraction(ctx context.Context, sourceID string) (*types.TrainingJob, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.IsRetrievable() {
		return nil, fmt.Errorf("%w: source %s is %s", types.ErrInvalidTransition, sourceID, src.Status)
	}
	return s.enqueue(ctx, src, types.JobTypeGraphExtraction, 0)
}

func (s *Service) enqueue(ctx context.Context, src *types.Source, jt types.JobType, priority int) (*types.TrainingJob, error) {
	if s.jobs == nil {
		return nil, errors.New("ingest: no job queue configured")
	}
	job := &types.TrainingJob{
		ID:       uuid.New().String(),
		TwinID:   src.TwinID,
		SourceID: src.ID,
		Type:     jt,
		Priority: priority,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Deactivate removes a source from retrieval. A source on the publish
// allowlist is soft-deactivated (vectors dropped, row kept); any other source
// is hard-deleted together with its chunks, vectors and graph contribution.
// It reports whether the row was kept.
func (s *Service) Deactivate(ctx context.Context, sourceID string) (soft bool, err error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return false, err
	}
	published, err := s.store.IsPublished(ctx, src.TwinID, src.ID)
	if err != nil {
		return false, err
	}

	if err := s.vectors.DeleteBySource(ctx, src.TwinID, src.ID); err != nil {
		return false, fmt.Errorf("failed to delete vectors: %w", err)
	}

	if published {
		if err := s.store.DeactivateSource(ctx, src.ID); err != nil {
			return false, err
		}
		now := time.Now()
		src.DeactivatedAt = &now
		s.emit(src, false)
		return true, nil
	}

	if err := s.graph.DeleteSourceGraph(ctx, src.TwinID, src.ID); err != nil {
		return false, fmt.Errorf("failed to delete graph contribution: %w", err)
	}
	if err := s.store.DeleteSource(ctx, src.ID); err != nil {
		return false, err
	}
	s.emit(src, true)
	return false, nil
}

func (s *Service) emit(src *types.Source, deleted bool) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(SourceEvent{
		TwinID:   src.TwinID,
		SourceID: src.ID,
		Status:   src.Status,
		Staging:  src.Staging,
		Error:    src.Error,
		Deleted:  deleted,
	})
}

func defaultTitle(req Request) string {
	switch {
	case req.Title != "":
		return req.Title
	case req.Input.Filename != "":
		return titleFromFilename(req.Input.Filename)
	case req.Input.URL != "":
		return req.Input.URL
	case req.Input.Kind == types.SourceKindTranscript:
		return "Transcript"
	}
	return "Untitled"
}
