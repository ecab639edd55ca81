package types

// GraphNode is a concept extracted from a source. Nodes are deduplicated by
// (twin, name, type); SourceIDs lists every source that mentioned the concept.
type GraphNode struct {
	ID        string   `json:"id"` // format: node:type:hash
	TwinID    string   `json:"twin_id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

// GraphEdge is a typed relationship between two nodes of the same twin.
// Edges are deduplicated by (from, to, type). SourceID is the source recorded
// by an upsert; SourceIDs lists every source that asserted the edge.
type GraphEdge struct {
	ID        string   `json:"id"`
	TwinID    string   `json:"twin_id"`
	FromID    string   `json:"from_id"`
	ToID      string   `json:"to_id"`
	Type      string   `json:"type"`
	SourceID  string   `json:"source_id"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

// GraphStats aggregates the size of a twin's concept graph.
type GraphStats struct {
	Nodes   int `json:"nodes"`
	Edges   int `json:"edges"`
	Sources int `json:"sources"` // sources with health=extracted
}

// Graph is a bounded view of a twin's concept graph.
type Graph struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
	Stats GraphStats   `json:"stats"`
}

// GraphFact is a graph element surfaced alongside retrieval results. It
// carries the sources that produced it so the visibility gate can filter it.
type GraphFact struct {
	NodeID    string   `json:"node_id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Relation  string   `json:"relation,omitempty"`
	Related   string   `json:"related,omitempty"`
	SourceIDs []string `json:"source_ids"`
}
