package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffDetectsKnownMagic(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0}
	assert.True(t, Sniff(png))

	gzip := []byte{0x1f, 0x8b, 0x08, 0x00}
	assert.True(t, Sniff(gzip))

	assert.False(t, Sniff([]byte("plain text content")))
}

func TestEncodeDecodeRoundTrips(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	var compressed bytes.Buffer
	require.NoError(t, Encode(&compressed, bytes.NewReader(original), 1))
	assert.Less(t, compressed.Len(), len(original))

	dec, err := Decode(&compressed)
	require.NoError(t, err)
	defer dec.Close()

	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}
