package engine

import (
	"context"
	"encoding/json"
	"log"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/graph"
	"github.com/scrypster/twinrag/internal/memory"
	"github.com/scrypster/twinrag/internal/retrieval"
	"github.com/scrypster/twinrag/pkg/types"
)

// Reindexer re-embeds the chunks of a live source.
type Reindexer interface {
	Reindex(ctx context.Context, sourceID string) (int, error)
}

// GraphExtractor builds the concept graph contribution of one source.
type GraphExtractor interface {
	ExtractSource(ctx context.Context, twinID, sourceID string) (*graph.Result, error)
}

// TranscriptLearner turns a session transcript into proposed memories.
type TranscriptLearner interface {
	LearnFromTranscript(ctx context.Context, twinID, sessionID string, turns []types.Turn) (*memory.FinalizeReport, error)
}

// ReadinessChecker computes readiness verdicts and verification runs.
type ReadinessChecker interface {
	Check(ctx context.Context, twinID string) (*retrieval.Verdict, error)
	RunVerification(ctx context.Context, twinID string, queries []string) (*types.VerificationRun, error)
}

// HealthCheckPayload is the optional payload of a health_check job. With
// queries the job records a verification run before computing the verdict.
type HealthCheckPayload struct {
	Queries []string `json:"queries,omitempty"`
}

// IndexingHandler re-embeds the job's source.
func IndexingHandler(ix Reindexer) Handler {
	return func(ctx context.Context, job *types.TrainingJob) error {
		if job.SourceID == "" {
			return failure.Terminalf("indexing", "job %s has no source", job.ID)
		}
		n, err := ix.Reindex(ctx, job.SourceID)
		if err != nil {
			return err
		}
		log.Printf("engine: indexed %d chunks of source %s", n, job.SourceID)
		return nil
	}
}

// GraphExtractionHandler extracts the concept graph of the job's source.
func GraphExtractionHandler(ex GraphExtractor) Handler {
	return func(ctx context.Context, job *types.TrainingJob) error {
		if job.SourceID == "" {
			return failure.Terminalf("graph_extraction", "job %s has no source", job.ID)
		}
		res, err := ex.ExtractSource(ctx, job.TwinID, job.SourceID)
		if err != nil {
			return err
		}
		log.Printf("engine: source %s added %d nodes and %d edges (%d edges skipped)",
			job.SourceID, res.Nodes, res.Edges, res.SkippedEdges)
		return nil
	}
}

// FeedbackLearningHandler decodes a FeedbackPayload and learns memories from it.
func FeedbackLearningHandler(learner TranscriptLearner) Handler {
	return func(ctx context.Context, job *types.TrainingJob) error {
		var p FeedbackPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return failure.New(failure.Terminal, "feedback_learning", err)
		}
		report, err := learner.LearnFromTranscript(ctx, job.TwinID, p.SessionID, p.Turns)
		if err != nil {
			return err
		}
		log.Printf("engine: feedback for twin %s proposed %d memories (%d below confidence, %d failed)",
			job.TwinID, report.ProposedCount, report.RejectedLowConfidence, report.ProposedFailedCount)
		return nil
	}
}

// HealthCheckHandler computes the twin's readiness verdict. A twin that is
// not ready still completes the job; the verdict is advisory.
func HealthCheckHandler(checker ReadinessChecker) Handler {
	return func(ctx context.Context, job *types.TrainingJob) error {
		var p HealthCheckPayload
		if job.Payload != "" {
			if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
				return failure.New(failure.Terminal, "health_check", err)
			}
		}
		if len(p.Queries) > 0 {
			if _, err := checker.RunVerification(ctx, job.TwinID, p.Queries); err != nil {
				return err
			}
		}
		v, err := checker.Check(ctx, job.TwinID)
		if err != nil {
			return err
		}
		if !v.Ready {
			log.Printf("WARNING: engine: twin %s not ready: %v", job.TwinID, v.Reasons)
		}
		return nil
	}
}
