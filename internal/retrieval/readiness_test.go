package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/storage"
)

func TestReadiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "twin-1", "bread", starterText)

	v, err := f.checker.Check(ctx, "twin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VectorCount)
	assert.False(t, v.Ready)
	assert.Equal(t, []string{"no verification run"}, v.Reasons)

	run, err := f.checker.RunVerification(ctx, "twin-1", []string{starterText, " "})
	require.NoError(t, err)
	assert.True(t, run.Passed)
	assert.Equal(t, 1, run.CitedQueries)
	assert.Equal(t, []string{starterText}, run.Queries)

	v, err = f.checker.Check(ctx, "twin-1")
	require.NoError(t, err)
	assert.True(t, v.Ready)
	assert.Empty(t, v.Reasons)
	require.Len(t, v.Runs, 1)
	assert.Equal(t, run.ID, v.Runs[0].ID)
}

func TestReadiness_EmptyTwin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.checker.RunVerification(ctx, "twin-2", []string{"what do you bake?"})
	require.NoError(t, err)
	assert.False(t, run.Passed)

	v, err := f.checker.Check(ctx, "twin-2")
	require.NoError(t, err)
	assert.False(t, v.Ready)
	assert.Equal(t, []string{"no indexed chunks", "last verification run cited 0 of 1 queries"}, v.Reasons)

	_, err = f.checker.RunVerification(ctx, "twin-2", nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
