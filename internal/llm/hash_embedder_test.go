package llm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(0)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Kubernetes schedules containers")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "kubernetes, SCHEDULES containers!")
	require.NoError(t, err)

	assert.Len(t, a, DefaultHashDimension)
	assert.Equal(t, a, b, "case and punctuation do not change the vector")
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	h := NewHashEmbedder(512)
	ctx := context.Background()

	q, _ := h.Embed(ctx, "how do I bake sourdough bread")
	near, _ := h.Embed(ctx, "sourdough bread needs a long bake")
	far, _ := h.Embed(ctx, "quarterly tax filing deadlines")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	_, err := NewHashEmbedder(8).Embed(context.Background(), " ... ")
	assert.Error(t, err)
}
