package specialization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/internal/storage/sqlite"
	"github.com/scrypster/twinrag/pkg/types"
)

func TestResolve(t *testing.T) {
	r := NewRegistry()

	for _, k := range r.Kinds() {
		p, err := r.Resolve(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, p.Kind)
		assert.NotEmpty(t, p.Preamble)
		assert.Positive(t, p.TopK)
	}
	assert.Equal(t, []Kind{Coach, Creator, Expert, General}, r.Kinds())

	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, General, p.Kind)

	_, err = r.Resolve("wizard")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestUseGraph(t *testing.T) {
	r := NewRegistry()
	expert, _ := r.Resolve("expert")
	creator, _ := r.Resolve("creator")
	assert.True(t, expert.UseGraph())
	assert.False(t, creator.UseGraph())
}

func TestForTwin(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.CreateTwin(ctx, &types.Twin{ID: "twin-1", Name: "Ada", Specialization: "coach"}))
	require.NoError(t, store.CreateTwin(ctx, &types.Twin{ID: "twin-2", Name: "Bob", Specialization: "wizard"}))

	r := NewRegistry()
	twin, p, err := r.ForTwin(ctx, store, "twin-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", twin.Name)
	assert.Equal(t, Coach, p.Kind)

	_, _, err = r.ForTwin(ctx, store, "twin-2")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, _, err = r.ForTwin(ctx, store, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	preamble, err := r.PreambleFunc(store)(ctx, "twin-1")
	require.NoError(t, err)
	assert.Contains(t, preamble, "coach")
}
