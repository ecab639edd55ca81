package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/specialization"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

func TestOwnerQuery_SeesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "twin-1", "public-notes", starterText)
	f.seed(t, "twin-1", "private-notes", starterText)
	f.publish(t, "twin-1", "public-notes")

	res, err := f.service.OwnerQuery(ctx, "twin-1", starterText, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TrustOwner, res.Trust)
	assert.ElementsMatch(t, []string{"public-notes", "private-notes"}, citedSources(res.Citations))

	_, err = f.service.OwnerQuery(ctx, "missing", starterText, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPublicQuery_OnlyPublishedSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "twin-1", "public-notes", starterText)
	f.seed(t, "twin-1", "private-notes", starterText)
	f.publish(t, "twin-1", "public-notes")
	require.NoError(t, f.store.CreateShareToken(ctx, &types.ShareToken{Token: "tok-1", TwinID: "twin-1"}))

	res, err := f.service.PublicQuery(ctx, "tok-1", starterText, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TrustPublic, res.Trust)
	assert.Equal(t, []string{"public-notes"}, citedSources(res.Citations))

	// The allowlist is read on every call.
	f.publish(t, "twin-1")
	res, err = f.service.PublicQuery(ctx, "tok-1", starterText, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Citations)

	f.publish(t, "twin-1", "public-notes", "private-notes")
	res, err = f.service.PublicQuery(ctx, "tok-1", starterText, 0)
	require.NoError(t, err)
	assert.Len(t, res.Citations, 2)
}

func TestPublicQuery_InvalidTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "twin-1", "public-notes", starterText)
	f.publish(t, "twin-1", "public-notes")

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }

	expired := now.Add(-time.Hour)
	later := now.Add(time.Hour)
	require.NoError(t, f.store.CreateShareToken(ctx, &types.ShareToken{Token: "expired", TwinID: "twin-1", ExpiresAt: &expired}))
	require.NoError(t, f.store.CreateShareToken(ctx, &types.ShareToken{Token: "revoked", TwinID: "twin-1"}))
	require.NoError(t, f.store.RevokeShareToken(ctx, "revoked", now))
	require.NoError(t, f.store.CreateShareToken(ctx, &types.ShareToken{Token: "valid", TwinID: "twin-1", ExpiresAt: &later}))

	for _, tok := range []string{"unknown", "expired", "revoked"} {
		_, err := f.service.PublicQuery(ctx, tok, starterText, 0)
		assert.ErrorIs(t, err, ErrInvalidShareToken, tok)
	}
	res, err := f.service.PublicQuery(ctx, "valid", starterText, 0)
	require.NoError(t, err)
	assert.Len(t, res.Citations, 1)

	_, err = f.service.PublicQuery(ctx, "valid", "  ", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestPublicQuery_HidesInternalErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTwin(ctx, &types.Twin{ID: "twin-3", Specialization: "wizard"}))
	require.NoError(t, f.store.CreateShareToken(ctx, &types.ShareToken{Token: "tok-3", TwinID: "twin-3"}))

	_, err := f.service.PublicQuery(ctx, "tok-3", starterText, 0)
	assert.Equal(t, ErrPublicUnavailable, err)

	_, err = f.service.OwnerQuery(ctx, "twin-3", starterText, 0)
	assert.ErrorIs(t, err, specialization.ErrUnknownKind)

	require.NoError(t, f.store.Close())
	_, err = f.service.PublicQuery(ctx, "tok-3", starterText, 0)
	assert.Equal(t, ErrPublicUnavailable, err)
}
