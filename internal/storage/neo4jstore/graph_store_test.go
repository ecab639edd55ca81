package neo4jstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/pkg/types"
)

// newTestGraphStore connects to NEO4J_TEST_URI. Tests are skipped when it is unset.
func newTestGraphStore(t *testing.T) *GraphStore {
	t.Helper()
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set; skipping Neo4j integration tests")
	}
	ctx := context.Background()
	g, err := NewGraphStore(ctx, Config{
		URI:      uri,
		Username: os.Getenv("NEO4J_TEST_USER"),
		Password: os.Getenv("NEO4J_TEST_PASSWORD"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(ctx) })
	return g
}

func TestGraphStore_Integration(t *testing.T) {
	g := newTestGraphStore(t)
	ctx := context.Background()
	twin := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = g.DeleteTwinForTest(ctx, twin) })

	a, err := g.UpsertNode(ctx, &types.GraphNode{ID: "n-a", TwinID: twin, Name: "kubernetes", Type: "tool"}, "s1")
	require.NoError(t, err)
	again, err := g.UpsertNode(ctx, &types.GraphNode{ID: "n-a2", TwinID: twin, Name: "kubernetes", Type: "tool"}, "s2")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := g.UpsertNode(ctx, &types.GraphNode{ID: "n-b", TwinID: twin, Name: "helm", Type: "tool"}, "s1")
	require.NoError(t, err)
	require.NoError(t, g.UpsertEdge(ctx, &types.GraphEdge{ID: "e1", TwinID: twin, FromID: b, ToID: a, Type: "deploys_to", SourceID: "s1"}))
	require.NoError(t, g.UpsertEdge(ctx, &types.GraphEdge{ID: "e2", TwinID: twin, FromID: b, ToID: a, Type: "deploys_to", SourceID: "s1"}))

	stats, err := g.GraphStats(ctx, twin)
	require.NoError(t, err)
	assert.Equal(t, types.GraphStats{Nodes: 2, Edges: 1, Sources: 2}, stats)

	nodes, err := g.FindNodesMentioned(ctx, twin, "Should I use Helm?", 5)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, b, nodes[0].ID)

	facts, err := g.Neighborhood(ctx, twin, []string{a}, 10)
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	require.NoError(t, g.DeleteSourceGraph(ctx, twin, "s1"))
	graph, err := g.GetGraph(ctx, twin, 10)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, []string{"s2"}, graph.Nodes[0].SourceIDs)
	assert.Empty(t, graph.Edges)
}

func TestGraphStore_EdgeSurvivesWhileAnySourceAssertsIt(t *testing.T) {
	g := newTestGraphStore(t)
	ctx := context.Background()
	twin := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = g.DeleteTwinForTest(ctx, twin) })

	var from, to string
	for _, src := range []string{"s1", "s2"} {
		var err error
		from, err = g.UpsertNode(ctx, &types.GraphNode{ID: "n-helm", TwinID: twin, Name: "helm", Type: "tool"}, src)
		require.NoError(t, err)
		to, err = g.UpsertNode(ctx, &types.GraphNode{ID: "n-k8s", TwinID: twin, Name: "kubernetes", Type: "tool"}, src)
		require.NoError(t, err)
		require.NoError(t, g.UpsertEdge(ctx, &types.GraphEdge{ID: "e-" + src, TwinID: twin, FromID: from, ToID: to, Type: "deploys_to", SourceID: src}))
	}

	graph, err := g.GetGraph(ctx, twin, 10)
	require.NoError(t, err)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, []string{"s1", "s2"}, graph.Edges[0].SourceIDs)

	require.NoError(t, g.DeleteSourceGraph(ctx, twin, "s1"))
	graph, err = g.GetGraph(ctx, twin, 10)
	require.NoError(t, err)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "s2", graph.Edges[0].SourceID)
	assert.Equal(t, []string{"s2"}, graph.Edges[0].SourceIDs)

	require.NoError(t, g.DeleteSourceGraph(ctx, twin, "s2"))
	stats, err := g.GraphStats(ctx, twin)
	require.NoError(t, err)
	assert.Equal(t, types.GraphStats{}, stats)
}
