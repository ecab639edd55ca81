// Package retrieval answers queries against a twin's knowledge.
//
// The Engine produces raw results from the chunk, vector and graph stores
// only; owner memories and settings are never read here. Raw results are
// untrusted until they pass the visibility gate (Apply), which is the single
// place public output is filtered.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

const (
	// DefaultTopK is used when a query asks for no particular number of citations.
	DefaultTopK = 5

	// MaxTopK caps the citations of one query.
	MaxTopK = 50

	// overfetch widens the vector lookup so filtering still leaves TopK results.
	overfetch = 3

	graphNodeLimit = 5
	graphFactLimit = 20
)

// Query is one retrieval request.
type Query struct {
	TwinID     string
	Text       string
	TopK       int
	UseGraph   bool
	GraphBoost float64 // added to citations whose source contributed a matched node
	MinScore   float64
}

// RawResult is unfiltered retrieval output. It must pass Apply before it
// reaches a public caller.
type RawResult struct {
	Citations  []types.Citation  `json:"citations"`
	GraphFacts []types.GraphFact `json:"graph_facts"`
	Trace      *Trace            `json:"trace"`
}

// Engine runs vector and graph retrieval for a twin.
type Engine struct {
	sources  storage.SourceStore
	chunks   storage.ChunkStore
	vectors  storage.VectorStore
	graph    storage.GraphStore
	embedder llm.EmbeddingGenerator
	timeout  time.Duration
}

// NewEngine creates a retrieval engine. timeout bounds the query embedding
// call (default 30s). graph may be nil, which disables graph lookups.
func NewEngine(sources storage.SourceStore, chunks storage.ChunkStore, vectors storage.VectorStore,
	graph storage.GraphStore, embedder llm.EmbeddingGenerator, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		sources:  sources,
		chunks:   chunks,
		vectors:  vectors,
		graph:    graph,
		embedder: embedder,
		timeout:  timeout,
	}
}

// Retrieve embeds the query, searches the twin's vector namespace and, when
// asked, the concept graph at the same time. Citations from sources that
// contributed a matched node are boosted. Only chunks of live, active sources
// of the twin are returned.
func (e *Engine) Retrieve(ctx context.Context, q Query) (*RawResult, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.TwinID == "" || q.Text == "" {
		return nil, fmt.Errorf("%w: twin ID and query text are required", storage.ErrInvalidInput)
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	useGraph := q.UseGraph && e.graph != nil

	trace := &Trace{}
	trace.add(EventRetrievalStarted(q.Text, map[string]string{
		"top_k":       strconv.Itoa(q.TopK),
		"use_graph":   strconv.FormatBool(useGraph),
		"graph_boost": strconv.FormatFloat(q.GraphBoost, 'f', 2, 64),
		"min_score":   strconv.FormatFloat(q.MinScore, 'f', 2, 64),
	}))

	embedCtx, cancel := context.WithTimeout(ctx, e.timeout)
	vec, err := e.embedder.Embed(embedCtx, q.Text)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var (
		matches []storage.VectorMatch
		facts   []types.GraphFact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.vectors.Query(gctx, q.TwinID, vec, q.TopK*overfetch)
		if err != nil {
			return fmt.Errorf("vector query failed: %w", err)
		}
		matches = m
		return nil
	})
	if useGraph {
		g.Go(func() error {
			f, err := e.graphLookup(gctx, q.TwinID, q.Text)
			if err != nil {
				return fmt.Errorf("graph lookup failed: %w", err)
			}
			facts = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	trace.add(EventCandidatesFound(len(matches), "vector"))
	if useGraph {
		trace.add(EventCandidatesFound(len(facts), "graph"))
	}

	live := &liveSources{store: e.sources, twinID: q.TwinID, known: map[string]bool{}}

	citations, err := e.hydrate(ctx, q, matches, boostedSources(facts), live, trace)
	if err != nil {
		return nil, err
	}
	facts, err = live.filterFacts(ctx, facts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(citations))
	for i, c := range citations {
		ids[i] = c.ChunkID
	}
	trace.add(EventResultsReturned(ids))

	if facts == nil {
		facts = []types.GraphFact{}
	}
	return &RawResult{Citations: citations, GraphFacts: facts, Trace: trace}, nil
}

func (e *Engine) graphLookup(ctx context.Context, twinID, text string) ([]types.GraphFact, error) {
	nodes, err := e.graph.FindNodesMentioned(ctx, twinID, text, graphNodeLimit)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return e.graph.Neighborhood(ctx, twinID, ids, graphFactLimit)
}

// boostedSources collects the sources behind matched nodes. Edge facts only
// describe neighbours and do not boost.
func boostedSources(facts []types.GraphFact) map[string]bool {
	out := make(map[string]bool)
	for _, f := range facts {
		if f.Relation != "" {
			continue
		}
		for _, id := range f.SourceIDs {
			out[id] = true
		}
	}
	return out
}

func (e *Engine) hydrate(ctx context.Context, q Query, matches []storage.VectorMatch, boosted map[string]bool,
	live *liveSources, trace *Trace) ([]types.Citation, error) {
	if len(matches) == 0 {
		return []types.Citation{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	chunks, err := e.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	byID := make(map[string]*types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	citations := make([]types.Citation, 0, len(matches))
	boosts := make(map[string]float64)
	for _, m := range matches {
		chunk, ok := byID[m.ChunkID]
		if !ok || chunk.TwinID != q.TwinID {
			trace.add(EventFilteredOut(m.ChunkID, m.SourceID, ReasonChunkMissing))
			continue
		}
		ok, err := live.retrievable(ctx, chunk.SourceID)
		if err != nil {
			return nil, err
		}
		if !ok {
			trace.add(EventFilteredOut(chunk.ID, chunk.SourceID, ReasonNotRetrievable))
			continue
		}

		boost := 0.0
		if boosted[chunk.SourceID] {
			boost = q.GraphBoost
		}
		score := m.Score + boost
		boosts[chunk.ID] = boost
		if score < q.MinScore {
			trace.add(EventFilteredOut(chunk.ID, chunk.SourceID, ReasonBelowMinScore))
			continue
		}
		citations = append(citations, types.Citation{
			ChunkID:  chunk.ID,
			SourceID: chunk.SourceID,
			Text:     chunk.Text,
			Score:    score,
		})
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Score != citations[j].Score {
			return citations[i].Score > citations[j].Score
		}
		return citations[i].ChunkID < citations[j].ChunkID
	})
	for _, c := range citations[min(len(citations), q.TopK):] {
		trace.add(EventFilteredOut(c.ChunkID, c.SourceID, ReasonBeyondTopK))
	}
	if len(citations) > q.TopK {
		citations = citations[:q.TopK]
	}
	for _, c := range citations {
		trace.add(EventScoredCandidate(c.ChunkID, c.SourceID, c.Score, boosts[c.ChunkID]))
	}
	return citations, nil
}

// liveSources memoizes whether sources are retrievable for one twin.
type liveSources struct {
	store  storage.SourceStore
	twinID string
	known  map[string]bool
}

func (l *liveSources) retrievable(ctx context.Context, sourceID string) (bool, error) {
	if ok, seen := l.known[sourceID]; seen {
		return ok, nil
	}
	src, err := l.store.GetSource(ctx, sourceID)
	switch {
	case err == nil:
		l.known[sourceID] = src.TwinID == l.twinID && src.IsRetrievable()
	case errors.Is(err, storage.ErrNotFound):
		l.known[sourceID] = false
	default:
		return false, fmt.Errorf("failed to load source %s: %w", sourceID, err)
	}
	return l.known[sourceID], nil
}

// filterFacts drops source ids that are not retrievable and facts left with none.
func (l *liveSources) filterFacts(ctx context.Context, facts []types.GraphFact) ([]types.GraphFact, error) {
	out := make([]types.GraphFact, 0, len(facts))
	for _, f := range facts {
		var keep []string
		for _, id := range f.SourceIDs {
			ok, err := l.retrievable(ctx, id)
			if err != nil {
				return nil, err
			}
			if ok {
				keep = append(keep, id)
			}
		}
		if len(keep) == 0 {
			continue
		}
		f.SourceIDs = keep
		out = append(out, f)
	}
	return out, nil
}
