package blobstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trybake/bake/internal/hash"
)

func TestLayeredStorePromotesOnHit(t *testing.T) {
	fast := NewLocalStore(t.TempDir(), hash.Blake3)
	slow := NewLocalStore(t.TempDir(), hash.Blake3)
	ctx := context.Background()

	h, err := slow.Put(ctx, bytes.NewReader([]byte("only in slow tier")))
	require.NoError(t, err)

	ok, err := fast.Contains(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok, "precondition: fast tier must not already have the blob")

	layered := NewLayeredStore(fast, slow)
	rc, err := layered.Get(ctx, h)
	require.NoError(t, err)
	rc.Close()

	ok, err = fast.Contains(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok, "hit in slow tier should promote into fast tier")
}

func TestLayeredStorePutWritesAllTiers(t *testing.T) {
	a := NewLocalStore(t.TempDir(), hash.Blake3)
	b := NewLocalStore(t.TempDir(), hash.Blake3)
	layered := NewLayeredStore(a, b)
	ctx := context.Background()

	h, err := layered.Put(ctx, bytes.NewReader([]byte("fan out")))
	require.NoError(t, err)

	for _, tier := range []*LocalStore{a, b} {
		ok, err := tier.Contains(ctx, h)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestLayeredStoreGetMissingReturnsNotFound(t *testing.T) {
	layered := NewLayeredStore(NewLocalStore(t.TempDir(), hash.Blake3), NewLocalStore(t.TempDir(), hash.Blake3))
	h, err := hash.HashBytes(hash.Blake3, []byte("nowhere"))
	require.NoError(t, err)

	_, err = layered.Get(context.Background(), h)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLayeredStoreContainsIsAnyTier(t *testing.T) {
	a := NewLocalStore(t.TempDir(), hash.Blake3)
	b := NewLocalStore(t.TempDir(), hash.Blake3)
	ctx := context.Background()
	h, err := b.Put(ctx, bytes.NewReader([]byte("lives in second tier")))
	require.NoError(t, err)

	layered := NewLayeredStore(a, b)
	ok, err := layered.Contains(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLayeredStorePutToleratesPartialFailure(t *testing.T) {
	good := NewLocalStore(t.TempDir(), hash.Blake3)
	bad := NewLocalStore("/nonexistent/root/that/cannot/be/created\x00", hash.Blake3)
	layered := NewLayeredStore(good, bad)

	h, err := layered.Put(context.Background(), bytes.NewReader([]byte("still works")))
	require.NoError(t, err)

	ok, err := good.Contains(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, ok)
}
