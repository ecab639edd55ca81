// Package memory turns interview transcripts into proposed owner beliefs.
//
// Extraction and persistence are separate steps. Extract returns candidates
// and never writes; Finalize drops low-confidence candidates and stores the
// rest as proposed records for the owner to confirm or reject.
package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// Extraction methods reported by Extract.
const (
	MethodLLM       = "llm"
	MethodHeuristic = "heuristic"
	MethodNone      = "none"
)

// Extraction is the candidate set of one transcript.
type Extraction struct {
	Candidates []types.MemoryCandidate `json:"candidates"`
	Method     string                  `json:"method"`
	Turns      int                     `json:"turns"` // turns left after normalization
}

// FinalizeReport lets callers tell "nothing found" apart from "found but dropped".
type FinalizeReport struct {
	ProposedCount         int                   `json:"proposed_count"`
	RejectedLowConfidence int                   `json:"rejected_low_confidence"`
	ProposedFailedCount   int                   `json:"proposed_failed_count"`
	Records               []*types.MemoryRecord `json:"records"`
}

// Extractor runs memory extraction for one twin at a time.
type Extractor struct {
	store   storage.MemoryStore
	llm     llm.TextGenerator
	timeout time.Duration
}

// NewExtractor creates an extractor. timeout bounds the LLM call (default 60s).
func NewExtractor(store storage.MemoryStore, gen llm.TextGenerator, timeout time.Duration) *Extractor {
	if gen == nil {
		gen = llm.DisabledGenerator{}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Extractor{store: store, llm: gen, timeout: timeout}
}

// Extract normalizes the transcript and asks the LLM for candidates. When the
// call fails, the response violates the schema, or it holds no candidates,
// the heuristic extractor runs instead. Extract never persists anything.
func (e *Extractor) Extract(ctx context.Context, turns []types.Turn) (*Extraction, error) {
	norm := Normalize(turns)
	res := &Extraction{Method: MethodNone, Turns: len(norm), Candidates: []types.MemoryCandidate{}}

	hasOwner := false
	for _, t := range norm {
		if isOwner(t) {
			hasOwner = true
			break
		}
	}
	if !hasOwner {
		return res, nil
	}

	candidates, err := e.extractLLM(ctx, norm)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("WARNING: memory: LLM extraction failed, using heuristic: %v", err)
	}
	if len(candidates) > 0 {
		res.Candidates = candidates
		res.Method = MethodLLM
		return res, nil
	}

	if h := Heuristic(norm); len(h) > 0 {
		res.Candidates = h
		res.Method = MethodHeuristic
	}
	return res, nil
}

func (e *Extractor) extractLLM(ctx context.Context, turns []types.Turn) ([]types.MemoryCandidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.llm.Complete(callCtx, llm.MemoryExtractionPrompt(renderTranscript(turns)))
	if err != nil {
		return nil, err
	}
	resp, err := llm.ParseMemoryResponse(text)
	if err != nil {
		return nil, err
	}

	out := make([]types.MemoryCandidate, 0, len(resp.Memories))
	for _, m := range resp.Memories {
		out = append(out, types.MemoryCandidate{
			Type:       types.MemoryType(m.Type),
			Content:    strings.TrimSpace(m.Content),
			Confidence: m.Confidence,
		})
	}
	return out, nil
}

// Finalize persists candidates with confidence >= types.MinMemoryConfidence as
// proposed records. Lower-confidence candidates are dropped and counted. A
// candidate that cannot be stored is counted as failed; the rest still go in.
func (e *Extractor) Finalize(ctx context.Context, twinID, sessionID, sourceType string, candidates []types.MemoryCandidate) (*FinalizeReport, error) {
	if twinID == "" {
		return nil, fmt.Errorf("%w: twin ID is required", storage.ErrInvalidInput)
	}
	report := &FinalizeReport{Records: []*types.MemoryRecord{}}

	for _, c := range candidates {
		if c.Confidence < types.MinMemoryConfidence {
			report.RejectedLowConfidence++
			continue
		}
		rec := &types.MemoryRecord{
			ID:         uuid.New().String(),
			TwinID:     twinID,
			Type:       c.Type,
			Content:    strings.TrimSpace(c.Content),
			Confidence: c.Confidence,
			SourceType: sourceType,
			SessionID:  sessionID,
			Status:     types.MemoryStatusProposed,
		}
		if err := e.validate(rec); err != nil {
			log.Printf("WARNING: memory: skipping candidate: %v", err)
			report.ProposedFailedCount++
			continue
		}
		if err := e.store.CreateMemory(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("ERROR: memory: failed to store candidate for twin %s: %v", twinID, err)
			report.ProposedFailedCount++
			continue
		}
		report.ProposedCount++
		report.Records = append(report.Records, rec)
	}

	log.Printf("memory: twin %s finalized %d proposed, %d below confidence, %d failed",
		twinID, report.ProposedCount, report.RejectedLowConfidence, report.ProposedFailedCount)
	return report, nil
}

func (e *Extractor) validate(rec *types.MemoryRecord) error {
	if _, err := types.ParseMemoryType(string(rec.Type)); err != nil {
		return err
	}
	if rec.Content == "" {
		return fmt.Errorf("empty content")
	}
	if rec.Confidence > 1 {
		return fmt.Errorf("confidence %.2f out of range", rec.Confidence)
	}
	return nil
}

// LearnFromTranscript extracts and finalizes in one step. It backs
// feedback_learning jobs.
func (e *Extractor) LearnFromTranscript(ctx context.Context, twinID, sessionID string, turns []types.Turn) (*FinalizeReport, error) {
	ex, err := e.Extract(ctx, turns)
	if err != nil {
		return nil, err
	}
	return e.Finalize(ctx, twinID, sessionID, "feedback", ex.Candidates)
}

// Memories lists a twin's records; an empty status lists all of them.
func (e *Extractor) Memories(ctx context.Context, twinID string, status types.MemoryStatus) ([]*types.MemoryRecord, error) {
	return e.store.ListMemories(ctx, twinID, status)
}
