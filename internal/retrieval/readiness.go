package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// recentRuns is the number of verification runs reported in a verdict.
const recentRuns = 5

// Verdict summarizes whether a twin is ready to answer. It is advisory and
// never blocks queries.
type Verdict struct {
	TwinID      string                   `json:"twin_id"`
	VectorCount int                      `json:"vector_count"`
	Graph       types.GraphStats         `json:"graph"`
	Runs        []*types.VerificationRun `json:"runs"`
	Ready       bool                     `json:"ready"`
	Reasons     []string                 `json:"reasons"`
}

// Checker computes readiness verdicts and runs verification queries.
type Checker struct {
	service *Service
	vectors storage.VectorStore
	graph   storage.GraphStore
	runs    storage.VerificationStore
}

// NewChecker creates a readiness checker.
func NewChecker(service *Service, vectors storage.VectorStore, graph storage.GraphStore, runs storage.VerificationStore) *Checker {
	return &Checker{service: service, vectors: vectors, graph: graph, runs: runs}
}

// Check reports a twin's indexed vector count, graph stats and recent
// verification runs. The twin is ready when it has vectors and its latest
// verification run passed.
func (c *Checker) Check(ctx context.Context, twinID string) (*Verdict, error) {
	v := &Verdict{TwinID: twinID, Reasons: []string{}}

	count, err := c.vectors.Count(ctx, twinID)
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	v.VectorCount = count

	if c.graph != nil {
		if v.Graph, err = c.graph.GraphStats(ctx, twinID); err != nil {
			return nil, err
		}
	}

	runs, err := c.runs.ListVerificationRuns(ctx, twinID, recentRuns)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*types.VerificationRun{}
	}
	v.Runs = runs

	if v.VectorCount == 0 {
		v.Reasons = append(v.Reasons, "no indexed chunks")
	}
	switch {
	case len(runs) == 0:
		v.Reasons = append(v.Reasons, "no verification run")
	case !runs[0].Passed:
		v.Reasons = append(v.Reasons, fmt.Sprintf("last verification run cited %d of %d queries",
			runs[0].CitedQueries, len(runs[0].Queries)))
	}
	v.Ready = len(v.Reasons) == 0
	return v, nil
}

// RunVerification runs each query as the owner and records the run. It
// passes when every query cites at least one chunk. A failing query counts
// as uncited.
func (c *Checker) RunVerification(ctx context.Context, twinID string, queries []string) (*types.VerificationRun, error) {
	var clean []string
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			clean = append(clean, q)
		}
	}
	if twinID == "" || len(clean) == 0 {
		return nil, fmt.Errorf("%w: twin ID and at least one query are required", storage.ErrInvalidInput)
	}

	run := &types.VerificationRun{ID: uuid.New().String(), TwinID: twinID, Queries: clean}
	for _, q := range clean {
		res, err := c.service.OwnerQuery(ctx, twinID, q, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("WARNING: retrieval: verification query failed for twin %s: %v", twinID, err)
			continue
		}
		if len(res.Citations) > 0 {
			run.CitedQueries++
		}
	}
	run.Passed = run.CitedQueries == len(clean)
	run.RanAt = time.Now()

	if err := c.runs.SaveVerificationRun(ctx, run); err != nil {
		return nil, err
	}
	log.Printf("retrieval: verification for twin %s cited %d of %d queries", twinID, run.CitedQueries, len(clean))
	return run, nil
}
