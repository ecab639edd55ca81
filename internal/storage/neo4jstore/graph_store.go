// Package neo4jstore provides a storage.GraphStore backed by Neo4j.
//
// Concepts are (:Concept {id, twin_id, name, type, source_ids}) nodes merged
// on (twin_id, name, type); relationships are [:RELATES {id, twin_id, type,
// source_id, source_ids}] merged on (from, to, type).
package neo4jstore

import (
	"context"
	"fmt"
	"log"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// Config holds Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string // default "neo4j"
}

// GraphStore implements storage.GraphStore on Neo4j.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ storage.GraphStore = (*GraphStore)(nil)

// NewGraphStore connects and verifies connectivity.
func NewGraphStore(ctx context.Context, cfg Config) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: connectivity check failed: %w", err)
	}
	db := cfg.Database
	if db == "" {
		db = "neo4j"
	}
	log.Printf("neo4j: connected to %s", cfg.URI)
	return &GraphStore{driver: driver, database: db}, nil
}

// Close closes the driver.
func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *GraphStore) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// UpsertNode merges the node and appends sourceID to its origins.
func (g *GraphStore) UpsertNode(ctx context.Context, node *types.GraphNode, sourceID string) (string, error) {
	if node == nil || node.ID == "" || node.TwinID == "" || node.Name == "" {
		return "", fmt.Errorf("%w: node ID, twin ID and name are required", storage.ErrInvalidInput)
	}
	records, err := g.run(ctx, `
		MERGE (n:Concept {twin_id: $twin, name: $name, type: $type})
		ON CREATE SET n.id = $id, n.source_ids = []
		SET n.source_ids = CASE
			WHEN $sid = '' OR $sid IN n.source_ids THEN n.source_ids
			ELSE n.source_ids + $sid END
		RETURN n.id AS id`,
		map[string]any{"twin": node.TwinID, "name": node.Name, "type": node.Type, "id": node.ID, "sid": sourceID})
	if err != nil {
		return "", fmt.Errorf("neo4j: failed to upsert node: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("neo4j: upsert node returned no rows")
	}
	return str(records[0], "id"), nil
}

// UpsertEdge merges the relationship on (from, to, type) and appends the
// edge's source to its source_ids.
func (g *GraphStore) UpsertEdge(ctx context.Context, edge *types.GraphEdge) error {
	if edge == nil || edge.ID == "" || edge.FromID == "" || edge.ToID == "" {
		return fmt.Errorf("%w: edge ID and endpoints are required", storage.ErrInvalidInput)
	}
	_, err := g.run(ctx, `
		MATCH (a:Concept {twin_id: $twin, id: $from})
		MATCH (b:Concept {twin_id: $twin, id: $to})
		MERGE (a)-[r:RELATES {type: $type}]->(b)
		ON CREATE SET r.id = $id, r.twin_id = $twin, r.source_id = $sid, r.source_ids = []
		WITH r, coalesce(r.source_ids, CASE WHEN r.source_id = '' THEN [] ELSE [r.source_id] END) AS ids
		SET r.source_ids = CASE
			WHEN $sid = '' OR $sid IN ids THEN ids
			ELSE ids + $sid END`,
		map[string]any{"twin": edge.TwinID, "from": edge.FromID, "to": edge.ToID, "type": edge.Type, "id": edge.ID, "sid": edge.SourceID})
	if err != nil {
		return fmt.Errorf("neo4j: failed to upsert edge: %w", err)
	}
	return nil
}

// GetGraph returns up to limit nodes with the edges among them.
func (g *GraphStore) GetGraph(ctx context.Context, twinID string, limit int) (*types.Graph, error) {
	if limit <= 0 {
		limit = 200
	}
	records, err := g.run(ctx, `
		MATCH (n:Concept {twin_id: $twin})
		RETURN n.id AS id, n.name AS name, n.type AS type, n.source_ids AS sources
		ORDER BY n.name LIMIT $limit`,
		map[string]any{"twin": twinID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to list nodes: %w", err)
	}

	graph := &types.Graph{Edges: []*types.GraphEdge{}}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		n := nodeFromRecord(r, twinID)
		graph.Nodes = append(graph.Nodes, n)
		ids = append(ids, n.ID)
	}

	if len(ids) > 0 {
		edges, err := g.run(ctx, `
			MATCH (a:Concept {twin_id: $twin})-[r:RELATES]->(b:Concept {twin_id: $twin})
			WHERE a.id IN $ids AND b.id IN $ids
			RETURN r.id AS id, a.id AS from_id, b.id AS to_id, r.type AS type,
				r.source_id AS source, r.source_ids AS sources`,
			map[string]any{"twin": twinID, "ids": ids})
		if err != nil {
			return nil, fmt.Errorf("neo4j: failed to list edges: %w", err)
		}
		for _, r := range edges {
			graph.Edges = append(graph.Edges, &types.GraphEdge{
				ID:        str(r, "id"),
				TwinID:    twinID,
				FromID:    str(r, "from_id"),
				ToID:      str(r, "to_id"),
				Type:      str(r, "type"),
				SourceID:  str(r, "source"),
				SourceIDs: strs(r, "sources"),
			})
		}
	}

	stats, err := g.GraphStats(ctx, twinID)
	if err != nil {
		return nil, err
	}
	graph.Stats = stats
	return graph, nil
}

// FindNodesMentioned returns nodes whose name occurs in text.
func (g *GraphStore) FindNodesMentioned(ctx context.Context, twinID, text string, limit int) ([]*types.GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	records, err := g.run(ctx, `
		MATCH (n:Concept {twin_id: $twin})
		WHERE size(n.name) > 2 AND toLower($text) CONTAINS n.name
		RETURN n.id AS id, n.name AS name, n.type AS type, n.source_ids AS sources
		ORDER BY size(n.name) DESC LIMIT $limit`,
		map[string]any{"twin": twinID, "text": text, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to match nodes: %w", err)
	}
	nodes := make([]*types.GraphNode, 0, len(records))
	for _, r := range records {
		nodes = append(nodes, nodeFromRecord(r, twinID))
	}
	return nodes, nil
}

// Neighborhood returns facts for the nodes and their incident relationships.
func (g *GraphStore) Neighborhood(ctx context.Context, twinID string, nodeIDs []string, limit int) ([]types.GraphFact, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	records, err := g.run(ctx, `
		MATCH (n:Concept {twin_id: $twin}) WHERE n.id IN $ids
		RETURN n.id AS id, n.name AS name, n.type AS type, n.source_ids AS sources`,
		map[string]any{"twin": twinID, "ids": nodeIDs})
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to load nodes: %w", err)
	}
	facts := make([]types.GraphFact, 0, len(records))
	for _, r := range records {
		n := nodeFromRecord(r, twinID)
		facts = append(facts, types.GraphFact{NodeID: n.ID, Name: n.Name, Type: n.Type, SourceIDs: n.SourceIDs})
	}

	edges, err := g.run(ctx, `
		MATCH (a:Concept {twin_id: $twin})-[r:RELATES]->(b:Concept {twin_id: $twin})
		WHERE a.id IN $ids OR b.id IN $ids
		RETURN a.id AS id, a.name AS name, a.type AS type, r.type AS rel, b.name AS related,
			r.source_id AS source, r.source_ids AS sources
		ORDER BY a.name, b.name LIMIT $limit`,
		map[string]any{"twin": twinID, "ids": nodeIDs, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to load neighborhood: %w", err)
	}
	for _, r := range edges {
		sources := strs(r, "sources")
		if len(sources) == 0 {
			sources = []string{str(r, "source")}
		}
		facts = append(facts, types.GraphFact{
			NodeID:    str(r, "id"),
			Name:      str(r, "name"),
			Type:      str(r, "type"),
			Relation:  str(r, "rel"),
			Related:   str(r, "related"),
			SourceIDs: sources,
		})
	}
	return facts, nil
}

// GraphStats counts nodes and edges. Sources is the number of distinct
// sources that contributed a node, which is how the graph itself observes
// extraction health.
func (g *GraphStore) GraphStats(ctx context.Context, twinID string) (types.GraphStats, error) {
	var st types.GraphStats
	params := map[string]any{"twin": twinID}
	for _, q := range []struct {
		cypher string
		dst    *int
	}{
		{`MATCH (n:Concept {twin_id: $twin}) RETURN count(n) AS c`, &st.Nodes},
		{`MATCH (:Concept {twin_id: $twin})-[r:RELATES]->() RETURN count(r) AS c`, &st.Edges},
		{`MATCH (n:Concept {twin_id: $twin}) UNWIND n.source_ids AS s RETURN count(DISTINCT s) AS c`, &st.Sources},
	} {
		records, err := g.run(ctx, q.cypher, params)
		if err != nil {
			return st, fmt.Errorf("neo4j: failed to compute stats: %w", err)
		}
		if len(records) > 0 {
			*q.dst = num(records[0], "c")
		}
	}
	return st, nil
}

// DeleteSourceGraph removes a source from relationship and node origins, then
// deletes relationships and nodes left without any source.
func (g *GraphStore) DeleteSourceGraph(ctx context.Context, twinID, sourceID string) error {
	params := map[string]any{"twin": twinID, "sid": sourceID}
	for _, cypher := range []string{
		`MATCH (:Concept {twin_id: $twin})-[r:RELATES]->()
			WHERE $sid IN coalesce(r.source_ids, [r.source_id])
			WITH r, [x IN coalesce(r.source_ids, [r.source_id]) WHERE x <> $sid] AS rest
			SET r.source_ids = rest,
				r.source_id = CASE WHEN r.source_id = $sid AND size(rest) > 0 THEN rest[0] ELSE r.source_id END`,
		`MATCH (:Concept {twin_id: $twin})-[r:RELATES]->() WHERE r.source_id <> '' AND size(r.source_ids) = 0 DELETE r`,
		`MATCH (n:Concept {twin_id: $twin}) WHERE $sid IN n.source_ids
			SET n.source_ids = [x IN n.source_ids WHERE x <> $sid]`,
		`MATCH (n:Concept {twin_id: $twin}) WHERE size(n.source_ids) = 0 DETACH DELETE n`,
	} {
		if _, err := g.run(ctx, cypher, params); err != nil {
			return fmt.Errorf("neo4j: failed to delete source graph: %w", err)
		}
	}
	return nil
}

// DeleteTwinForTest removes every node of a twin.
func (g *GraphStore) DeleteTwinForTest(ctx context.Context, twinID string) error {
	_, err := g.run(ctx, `MATCH (n:Concept {twin_id: $twin}) DETACH DELETE n`, map[string]any{"twin": twinID})
	return err
}

func nodeFromRecord(r *neo4j.Record, twinID string) *types.GraphNode {
	n := &types.GraphNode{
		ID:     str(r, "id"),
		TwinID: twinID,
		Name:   str(r, "name"),
		Type:   str(r, "type"),
	}
	n.SourceIDs = strs(r, "sources")
	return n
}

func strs(r *neo4j.Record, key string) []string {
	raw, ok := r.Get(key)
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func str(r *neo4j.Record, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func num(r *neo4j.Record, key string) int {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return int(n)
}
