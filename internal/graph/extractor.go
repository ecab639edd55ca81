// Package graph extracts a concept graph from live sources and serves the
// bounded graph view of a twin.
//
// Extraction is explicit: it runs only as a graph_extraction job, never as a
// side effect of ingestion, and its failures never change a source's live status.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/llm"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// fallbackNodeType replaces node types outside llm.GraphNodeTypes.
const fallbackNodeType = "concept"

// Result summarizes one extraction.
type Result struct {
	SourceID     string `json:"source_id"`
	Nodes        int    `json:"nodes"`
	Edges        int    `json:"edges"`
	SkippedEdges int    `json:"skipped_edges"`
}

// PreambleFunc returns the specialization preamble used for a twin's prompts.
type PreambleFunc func(ctx context.Context, twinID string) (string, error)

// Extractor runs LLM concept extraction for one source at a time.
type Extractor struct {
	sources  storage.SourceStore
	graph    storage.GraphStore
	llm      llm.TextGenerator
	timeout  time.Duration
	preamble PreambleFunc
}

// NewExtractor creates an extractor. timeout bounds each LLM call (default 60s).
func NewExtractor(sources storage.SourceStore, graph storage.GraphStore, gen llm.TextGenerator, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Extractor{sources: sources, graph: graph, llm: gen, timeout: timeout}
}

// SetPreamble registers the per-twin prompt preamble resolver.
func (e *Extractor) SetPreamble(fn PreambleFunc) { e.preamble = fn }

// ExtractSource extracts the concept graph of a live source, replacing any
// earlier contribution of the same source, and marks the source extracted.
func (e *Extractor) ExtractSource(ctx context.Context, twinID, sourceID string) (*Result, error) {
	src, err := e.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, failure.New(failure.Terminal, "graph extraction", err)
	}
	if src.TwinID != twinID {
		return nil, failure.Terminalf("graph extraction", "source %s does not belong to twin %s", sourceID, twinID)
	}
	if !src.IsRetrievable() {
		return nil, failure.New(failure.Terminal, "graph extraction",
			fmt.Errorf("%w: source %s is %s", types.ErrInvalidTransition, sourceID, src.Status))
	}
	if strings.TrimSpace(src.Content) == "" {
		return nil, failure.Terminalf("graph extraction", "source %s has no stored content", sourceID)
	}

	preamble := ""
	if e.preamble != nil {
		if preamble, err = e.preamble(ctx, twinID); err != nil {
			return nil, failure.New(failure.Terminal, "graph extraction", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	text, err := e.llm.Complete(callCtx, llm.GraphExtractionPrompt(preamble, src.Content))
	if err != nil {
		return nil, failure.New(failure.ClassOf(err), "graph extraction", err)
	}
	resp, err := llm.ParseGraphResponse(text)
	if err != nil {
		return nil, failure.New(failure.Terminal, "graph extraction", err)
	}

	if err := e.graph.DeleteSourceGraph(ctx, twinID, sourceID); err != nil {
		return nil, failure.New(failure.ClassOf(err), "graph extraction", err)
	}
	res, err := e.store(ctx, twinID, sourceID, resp)
	if err != nil {
		return nil, failure.New(failure.ClassOf(err), "graph extraction", err)
	}
	if err := e.sources.UpdateHealth(ctx, sourceID, types.HealthExtracted); err != nil {
		return nil, failure.New(failure.ClassOf(err), "graph extraction", err)
	}

	log.Printf("graph: source %s extracted %d nodes, %d edges (%d edges skipped)",
		sourceID, res.Nodes, res.Edges, res.SkippedEdges)
	return res, nil
}

func (e *Extractor) store(ctx context.Context, twinID, sourceID string, resp *llm.GraphResponse) (*Result, error) {
	res := &Result{SourceID: sourceID}

	// ids maps canonical names to stored node ids. A name seen with two
	// types keeps the first one for edge resolution.
	ids := make(map[string]string, len(resp.Nodes))
	seen := make(map[string]bool, len(resp.Nodes))
	for _, n := range resp.Nodes {
		name := CanonicalName(n.Name)
		typ := CanonicalType(n.Type)
		if name == "" || seen[typ+"\x00"+name] {
			continue
		}
		seen[typ+"\x00"+name] = true

		id, err := e.graph.UpsertNode(ctx, &types.GraphNode{
			ID:     NodeID(twinID, name, typ),
			TwinID: twinID,
			Name:   name,
			Type:   typ,
		}, sourceID)
		if err != nil {
			return nil, err
		}
		if _, ok := ids[name]; !ok {
			ids[name] = id
		}
		res.Nodes++
	}

	for _, edge := range resp.Edges {
		from, okFrom := ids[CanonicalName(edge.From)]
		to, okTo := ids[CanonicalName(edge.To)]
		rel := CanonicalRelation(edge.Type)
		if !okFrom || !okTo || from == to || rel == "" {
			res.SkippedEdges++
			continue
		}
		if err := e.graph.UpsertEdge(ctx, &types.GraphEdge{
			ID:       EdgeID(from, to, rel),
			TwinID:   twinID,
			FromID:   from,
			ToID:     to,
			Type:     rel,
			SourceID: sourceID,
		}); err != nil {
			return nil, err
		}
		res.Edges++
	}
	return res, nil
}

// Graph returns up to limit nodes of a twin with the edges among them and stats.
func (e *Extractor) Graph(ctx context.Context, twinID string, limit int) (*types.Graph, error) {
	return e.graph.GetGraph(ctx, twinID, limit)
}

var separatorRe = regexp.MustCompile(`[\s_\-]+`)

// CanonicalName lowercases a concept name and collapses separators, so
// "Machine_Learning" and "machine  learning" dedupe to one node.
func CanonicalName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = separatorRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " .,;:\"'")
}

// CanonicalType maps a node type onto the closed set of graph node types.
func CanonicalType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range llm.GraphNodeTypes {
		if s == t {
			return t
		}
	}
	return fallbackNodeType
}

// CanonicalRelation lowercases a relationship type and joins words with underscores.
func CanonicalRelation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(separatorRe.ReplaceAllString(s, "_"), "_")
}

// NodeID derives the id of a node from its twin, canonical name and type.
func NodeID(twinID, name, typ string) string {
	return fmt.Sprintf("node:%s:%s", typ, shortHash(twinID, name))
}

// EdgeID derives the id of an edge from its endpoints and type.
func EdgeID(from, to, rel string) string {
	return "edge:" + shortHash(from, to, rel)
}

func shortHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:8])
}
