package hash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesRoundTripsThroughString(t *testing.T) {
	h, err := HashBytes(Blake3, []byte("hello\n"))
	require.NoError(t, err)

	parsed, err := Parse(h.String())
	require.NoError(t, err)
	assert.True(t, h.Equal(parsed))
}

func TestIdenticalContentProducesIdenticalHash(t *testing.T) {
	a, err := HashBytes(Blake3, []byte("hello\n"))
	require.NoError(t, err)
	b, err := HashBytes(Blake3, []byte("hello\n"))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
}

func TestDifferentAlgorithmsNeverEqual(t *testing.T) {
	a, err := HashBytes(Blake3, []byte("hello\n"))
	require.NoError(t, err)
	b, err := HashBytes(SHA256, []byte("hello\n"))
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}

func TestHashReaderMatchesHashBytes(t *testing.T) {
	content := []byte("streamed content")
	viaBytes, err := HashBytes(Blake3, content)
	require.NoError(t, err)

	viaReader, err := HashReader(Blake3, bytes.NewReader(content))
	require.NoError(t, err)

	assert.True(t, viaBytes.Equal(viaReader))
}

func TestParseRejectsMalformedInput(t *testing.T) {
	_, err := Parse("not-a-hash")
	assert.Error(t, err)

	_, err = Parse("md5:deadbeef")
	assert.Error(t, err)

	_, err = Parse("blake3:zz")
	assert.Error(t, err)
}

func TestShardIsFirstTwoHexChars(t *testing.T) {
	h, err := HashBytes(SHA256, []byte("x"))
	require.NoError(t, err)
	prefix, rest := h.Shard()
	assert.Len(t, prefix, 2)
	assert.Equal(t, h.String(), "sha256:"+prefix+rest)
}
