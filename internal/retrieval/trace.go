package retrieval

import "time"

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindRetrievalStarted is emitted at the beginning of a retrieval.
	KindRetrievalStarted TraceEventKind = "retrieval_started"

	// KindCandidatesFound is emitted once per backend after its lookup returns.
	KindCandidatesFound TraceEventKind = "candidates_found"

	// KindScoredCandidate is emitted once per citation that survived hydration.
	KindScoredCandidate TraceEventKind = "scored_candidate"

	// KindFilteredOut is emitted for every discarded candidate. It never
	// carries chunk text or graph names.
	KindFilteredOut TraceEventKind = "filtered_out"

	// KindResultsReturned records the final citation set.
	KindResultsReturned TraceEventKind = "results_returned"
)

// Filter reasons.
const (
	ReasonNotPublished   = "not_published"
	ReasonNotRetrievable = "source_not_retrievable"
	ReasonChunkMissing   = "chunk_missing"
	ReasonBelowMinScore  = "below_min_score"
	ReasonBeyondTopK     = "beyond_top_k"
)

// TraceEvent is a single structured event emitted during retrieval.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`
	At   time.Time      `json:"at"`

	// ChunkID and SourceID identify the candidate of per-item events.
	ChunkID  string `json:"chunk_id,omitempty"`
	SourceID string `json:"source_id,omitempty"`

	// NodeID identifies a filtered graph fact.
	NodeID string `json:"node_id,omitempty"`

	// Backend is the lookup that produced candidates ("vector", "graph").
	Backend string `json:"backend,omitempty"`

	Count int `json:"count,omitempty"`

	// Score is the final score of a scored_candidate; Boost the graph share of it.
	Score float64 `json:"score,omitempty"`
	Boost float64 `json:"boost,omitempty"`

	FilterReason string `json:"filter_reason,omitempty"`

	// Query and Filters are set on retrieval_started.
	Query   string            `json:"query,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`

	// ChunkIDs lists all returned ids on results_returned.
	ChunkIDs []string `json:"chunk_ids,omitempty"`
}

// Trace is the ordered event log of one retrieval.
type Trace struct {
	Events []TraceEvent `json:"events"`
}

func (t *Trace) add(e TraceEvent) {
	t.Events = append(t.Events, e)
}

// Filtered returns the filtered_out events.
func (t *Trace) Filtered() []TraceEvent {
	if t == nil {
		return nil
	}
	var out []TraceEvent
	for _, e := range t.Events {
		if e.Kind == KindFilteredOut {
			out = append(out, e)
		}
	}
	return out
}

func (t *Trace) clone() *Trace {
	if t == nil {
		return &Trace{}
	}
	return &Trace{Events: append([]TraceEvent(nil), t.Events...)}
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventRetrievalStarted creates a retrieval_started trace event.
func EventRetrievalStarted(query string, filters map[string]string) TraceEvent {
	e := newTraceEvent(KindRetrievalStarted)
	e.Query = query
	e.Filters = filters
	return e
}

// EventCandidatesFound creates a candidates_found trace event.
func EventCandidatesFound(count int, backend string) TraceEvent {
	e := newTraceEvent(KindCandidatesFound)
	e.Count = count
	e.Backend = backend
	return e
}

// EventScoredCandidate creates a scored_candidate trace event.
func EventScoredCandidate(chunkID, sourceID string, score, boost float64) TraceEvent {
	e := newTraceEvent(KindScoredCandidate)
	e.ChunkID = chunkID
	e.SourceID = sourceID
	e.Score = score
	e.Boost = boost
	return e
}

// EventFilteredOut creates a filtered_out event for a citation.
func EventFilteredOut(chunkID, sourceID, reason string) TraceEvent {
	e := newTraceEvent(KindFilteredOut)
	e.ChunkID = chunkID
	e.SourceID = sourceID
	e.FilterReason = reason
	return e
}

// EventFactFilteredOut creates a filtered_out event for a graph fact.
func EventFactFilteredOut(nodeID, reason string) TraceEvent {
	e := newTraceEvent(KindFilteredOut)
	e.NodeID = nodeID
	e.FilterReason = reason
	return e
}

// EventResultsReturned creates a results_returned trace event.
func EventResultsReturned(chunkIDs []string) TraceEvent {
	e := newTraceEvent(KindResultsReturned)
	e.ChunkIDs = chunkIDs
	e.Count = len(chunkIDs)
	return e
}
