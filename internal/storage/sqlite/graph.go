package sqlite

import (
	"context"
	"fmt"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// UpsertNode inserts a node or merges it into the existing (twin, name, type)
// node, recording sourceID as one of its origins.
func (s *Store) UpsertNode(ctx context.Context, node *types.GraphNode, sourceID string) (string, error) {
	if node == nil || node.ID == "" || node.TwinID == "" || node.Name == "" {
		return "", fmt.Errorf("%w: node ID, twin ID and name are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_nodes (id, twin_id, name, type) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		node.ID, node.TwinID, node.Name, node.Type); err != nil {
		return "", fmt.Errorf("failed to upsert node: %w", err)
	}

	var id string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM graph_nodes WHERE twin_id = ? AND name = ? AND type = ?`,
		node.TwinID, node.Name, node.Type).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to resolve node id: %w", err)
	}

	if sourceID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO graph_node_sources (node_id, source_id) VALUES (?, ?)`,
			id, sourceID); err != nil {
			return "", fmt.Errorf("failed to link node source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit node: %w", err)
	}
	return id, nil
}

// UpsertEdge inserts an edge or finds the existing (from, to, type) edge, and
// links edge.SourceID to it. Each source asserting an edge keeps its own link.
func (s *Store) UpsertEdge(ctx context.Context, edge *types.GraphEdge) error {
	if edge == nil || edge.ID == "" || edge.FromID == "" || edge.ToID == "" {
		return fmt.Errorf("%w: edge ID and endpoints are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_edges (id, twin_id, from_id, to_id, type, source_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		edge.ID, edge.TwinID, edge.FromID, edge.ToID, edge.Type, edge.SourceID); err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}

	if edge.SourceID != "" {
		var id string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM graph_edges WHERE from_id = ? AND to_id = ? AND type = ?`,
			edge.FromID, edge.ToID, edge.Type).Scan(&id); err != nil {
			return fmt.Errorf("failed to resolve edge id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO graph_edge_sources (edge_id, source_id) VALUES (?, ?)`,
			id, edge.SourceID); err != nil {
			return fmt.Errorf("failed to link edge source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edge: %w", err)
	}
	return nil
}

// GetGraph returns up to limit nodes and the edges between them.
func (s *Store) GetGraph(ctx context.Context, twinID string, limit int) (*types.Graph, error) {
	if limit <= 0 {
		limit = 200
	}
	nodes, err := s.queryNodes(ctx, `
		SELECT id, twin_id, name, type FROM graph_nodes
		WHERE twin_id = ? ORDER BY name LIMIT ?`, twinID, limit)
	if err != nil {
		return nil, err
	}

	graph := &types.Graph{Nodes: nodes, Edges: []*types.GraphEdge{}}
	if len(nodes) > 0 {
		ids := make([]interface{}, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		in := placeholders(len(ids))
		args := append(append([]interface{}{twinID}, ids...), ids...)
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, twin_id, from_id, to_id, type, source_id FROM graph_edges
			WHERE twin_id = ? AND from_id IN (`+in+`) AND to_id IN (`+in+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to list edges: %w", err)
		}
		for rows.Next() {
			var e types.GraphEdge
			if err := rows.Scan(&e.ID, &e.TwinID, &e.FromID, &e.ToID, &e.Type, &e.SourceID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan edge: %w", err)
			}
			graph.Edges = append(graph.Edges, &e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}

		edgeIDs := make([]string, len(graph.Edges))
		for i, e := range graph.Edges {
			edgeIDs[i] = e.ID
		}
		sources, err := s.edgeSources(ctx, edgeIDs)
		if err != nil {
			return nil, err
		}
		for _, e := range graph.Edges {
			e.SourceIDs = sources[e.ID]
		}
	}

	stats, err := s.GraphStats(ctx, twinID)
	if err != nil {
		return nil, err
	}
	graph.Stats = stats
	return graph, nil
}

// FindNodesMentioned returns nodes whose canonical name appears in text.
// Names are stored lowercased, so the match is case-insensitive.
func (s *Store) FindNodesMentioned(ctx context.Context, twinID, text string, limit int) ([]*types.GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryNodes(ctx, `
		SELECT id, twin_id, name, type FROM graph_nodes
		WHERE twin_id = ? AND length(name) > 2 AND instr(lower(?), name) > 0
		ORDER BY length(name) DESC LIMIT ?`, twinID, text, limit)
}

// Neighborhood returns a fact for each node and one per incident edge.
func (s *Store) Neighborhood(ctx context.Context, twinID string, nodeIDs []string, limit int) ([]types.GraphFact, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	ids := make([]interface{}, len(nodeIDs))
	for i, id := range nodeIDs {
		ids[i] = id
	}

	nodes, err := s.queryNodes(ctx, `
		SELECT id, twin_id, name, type FROM graph_nodes
		WHERE twin_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		append([]interface{}{twinID}, ids...)...)
	if err != nil {
		return nil, err
	}

	facts := make([]types.GraphFact, 0, len(nodes))
	for _, n := range nodes {
		facts = append(facts, types.GraphFact{NodeID: n.ID, Name: n.Name, Type: n.Type, SourceIDs: n.SourceIDs})
	}

	in := placeholders(len(ids))
	args := append(append([]interface{}{twinID}, ids...), ids...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, a.id, a.name, a.type, e.type, b.name, e.source_id
		FROM graph_edges e
		JOIN graph_nodes a ON a.id = e.from_id
		JOIN graph_nodes b ON b.id = e.to_id
		WHERE e.twin_id = ? AND (e.from_id IN (`+in+`) OR e.to_id IN (`+in+`))
		ORDER BY a.name, b.name
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load neighborhood: %w", err)
	}

	var edgeIDs []string
	firstEdge := len(facts)
	for rows.Next() {
		var f types.GraphFact
		var edgeID, sourceID string
		if err := rows.Scan(&edgeID, &f.NodeID, &f.Name, &f.Type, &f.Relation, &f.Related, &sourceID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		f.SourceIDs = []string{sourceID}
		edgeIDs = append(edgeIDs, edgeID)
		facts = append(facts, f)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	sources, err := s.edgeSources(ctx, edgeIDs)
	if err != nil {
		return nil, err
	}
	for i, id := range edgeIDs {
		if ids := sources[id]; len(ids) > 0 {
			facts[firstEdge+i].SourceIDs = ids
		}
	}
	return facts, nil
}

// edgeSources maps each edge id to its linked source ids.
func (s *Store) edgeSources(ctx context.Context, edgeIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(edgeIDs))
	if len(edgeIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(edgeIDs))
	for i, id := range edgeIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT edge_id, source_id FROM graph_edge_sources
		WHERE edge_id IN (`+placeholders(len(args))+`) ORDER BY source_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load edge sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var edgeID, sourceID string
		if err := rows.Scan(&edgeID, &sourceID); err != nil {
			return nil, err
		}
		out[edgeID] = append(out[edgeID], sourceID)
	}
	return out, rows.Err()
}

// GraphStats counts nodes, edges and extracted sources of a twin.
func (s *Store) GraphStats(ctx context.Context, twinID string) (types.GraphStats, error) {
	var st types.GraphStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM graph_nodes WHERE twin_id = ?),
			(SELECT COUNT(*) FROM graph_edges WHERE twin_id = ?),
			(SELECT COUNT(*) FROM sources WHERE twin_id = ? AND health = 'extracted' AND deactivated_at IS NULL)`,
		twinID, twinID, twinID).Scan(&st.Nodes, &st.Edges, &st.Sources)
	if err != nil {
		return st, fmt.Errorf("failed to compute graph stats: %w", err)
	}
	return st, nil
}

// DeleteSourceGraph drops a source's edge and node links, then removes edges
// and nodes no longer backed by any source. Surviving edges that named the
// source as their origin are re-pointed at a remaining one.
func (s *Store) DeleteSourceGraph(ctx context.Context, twinID, sourceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM graph_edge_sources WHERE source_id = ?
			AND edge_id IN (SELECT id FROM graph_edges WHERE twin_id = ?)`, []interface{}{sourceID, twinID}},
		{`DELETE FROM graph_edges WHERE twin_id = ? AND source_id <> ''
			AND id NOT IN (SELECT edge_id FROM graph_edge_sources)`, []interface{}{twinID}},
		{`UPDATE graph_edges SET source_id = (
				SELECT MIN(source_id) FROM graph_edge_sources WHERE edge_id = graph_edges.id)
			WHERE twin_id = ? AND source_id = ?`, []interface{}{twinID, sourceID}},
		{`DELETE FROM graph_node_sources WHERE source_id = ?
			AND node_id IN (SELECT id FROM graph_nodes WHERE twin_id = ?)`, []interface{}{sourceID, twinID}},
		{`DELETE FROM graph_nodes WHERE twin_id = ?
			AND id NOT IN (SELECT node_id FROM graph_node_sources)`, []interface{}{twinID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("failed to delete source graph: %w", err)
		}
	}
	return tx.Commit()
}

// queryNodes loads nodes and attaches their source ids.
func (s *Store) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*types.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	var nodes []*types.GraphNode
	byID := make(map[string]*types.GraphNode)
	for rows.Next() {
		var n types.GraphNode
		if err := rows.Scan(&n.ID, &n.TwinID, &n.Name, &n.Type); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &n)
		byID[n.ID] = &n
	}
	err = rows.Err()
	rows.Close()
	if err != nil || len(nodes) == 0 {
		return nodes, err
	}

	ids := make([]interface{}, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	srcRows, err := s.db.QueryContext(ctx, `
		SELECT node_id, source_id FROM graph_node_sources
		WHERE node_id IN (`+placeholders(len(ids))+`) ORDER BY source_id`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to load node sources: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var nodeID, sourceID string
		if err := srcRows.Scan(&nodeID, &sourceID); err != nil {
			return nil, err
		}
		if n := byID[nodeID]; n != nil {
			n.SourceIDs = append(n.SourceIDs, sourceID)
		}
	}
	return nodes, srcRows.Err()
}
