package blobstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trybake/bake/internal/hash"
)

func TestLocalStoreCompressesCompressibleContent(t *testing.T) {
	s := NewLocalStore(t.TempDir(), hash.Blake3)
	ctx := context.Background()

	content := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200))
	h, err := s.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)

	tag, payload, err := s.rawGet(ctx, h)
	require.NoError(t, err)
	defer payload.Close()
	assert.Equal(t, tagZstd, tag)

	raw, err := io.ReadAll(payload)
	require.NoError(t, err)
	assert.Less(t, len(raw), len(content), "compressed payload should be smaller than source")

	rc, err := s.Get(ctx, h)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalStoreSkipsCompressionForAlreadyCompressedContent(t *testing.T) {
	s := NewLocalStore(t.TempDir(), hash.Blake3)
	ctx := context.Background()

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte("fake png body")...)
	h, err := s.Put(ctx, bytes.NewReader(png))
	require.NoError(t, err)

	tag, payload, err := s.rawGet(ctx, h)
	require.NoError(t, err)
	payload.Close()
	assert.Equal(t, tagRaw, tag)

	rc, err := s.Get(ctx, h)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestLocalStoreChunksLargeBlobsAndDeduplicatesAcrossPuts(t *testing.T) {
	s := NewLocalStore(t.TempDir(), hash.Blake3)
	ctx := context.Background()

	shared := bytes.Repeat([]byte("stable shared region "), 20000) // > chunkThreshold
	a := append(append([]byte{}, shared...), []byte("-file-a-tail")...)
	b := append(append([]byte{}, shared...), []byte("-file-b-tail")...)

	hA, err := s.Put(ctx, bytes.NewReader(a))
	require.NoError(t, err)
	tag, payload, err := s.rawGet(ctx, hA)
	require.NoError(t, err)
	payload.Close()
	assert.Equal(t, tagChunked, tag)

	before, err := s.List(ctx)
	require.NoError(t, err)

	hB, err := s.Put(ctx, bytes.NewReader(b))
	require.NoError(t, err)
	assert.False(t, hA.Equal(hB))

	after, err := s.List(ctx)
	require.NoError(t, err)
	// b shares most of its content with a, so storing it should add the new
	// manifest plus only the chunk(s) covering the differing tail, not a
	// full second copy of the shared region's chunks.
	assert.Less(t, len(after)-len(before), len(after))

	rcA, err := s.Get(ctx, hA)
	require.NoError(t, err)
	gotA, err := io.ReadAll(rcA)
	rcA.Close()
	require.NoError(t, err)
	assert.Equal(t, a, gotA)

	rcB, err := s.Get(ctx, hB)
	require.NoError(t, err)
	gotB, err := io.ReadAll(rcB)
	rcB.Close()
	require.NoError(t, err)
	assert.Equal(t, b, gotB)
}
