package chunk

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitReconstitutesOriginalContent(t *testing.T) {
	data := make([]byte, 5*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	var reconstructed bytes.Buffer
	var chunks []Chunk
	err = Split(bytes.NewReader(data), DefaultConfig(), func(c Chunk, payload []byte) error {
		chunks = append(chunks, c)
		reconstructed.Write(payload)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, len(chunks) > 1)
	assert.Equal(t, data, reconstructed.Bytes())
}

func TestSplitRespectsMinAndMaxBounds(t *testing.T) {
	data := make([]byte, 2*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	cfg := Config{Min: 1024, Avg: 4096, Max: 16384}
	var chunks []Chunk
	err = Split(bytes.NewReader(data), cfg, func(c Chunk, _ []byte) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	for i, c := range chunks {
		if i == len(chunks)-1 {
			continue // the final chunk may be shorter than Min
		}
		assert.GreaterOrEqual(t, c.Length, int64(cfg.Min))
		assert.LessOrEqual(t, c.Length, int64(cfg.Max))
	}
}

func TestIdenticalRegionsProduceIdenticalChunkHashes(t *testing.T) {
	shared := make([]byte, 64*1024)
	_, err := rand.Read(shared)
	require.NoError(t, err)
	fileA := append(append([]byte("prefix-a-"), shared...), []byte("suffix-a")...)
	fileB := append(append([]byte("prefix-b-longer-"), shared...), []byte("suffix-b")...)

	cfg := Config{Min: 512, Avg: 2048, Max: 8192}

	hashesFor := func(data []byte) map[string]bool {
		out := map[string]bool{}
		_ = Split(bytes.NewReader(data), cfg, func(c Chunk, _ []byte) error {
			out[c.Hash.String()] = true
			return nil
		})
		return out
	}

	a := hashesFor(fileA)
	b := hashesFor(fileB)

	overlap := 0
	for k := range a {
		if b[k] {
			overlap++
		}
	}
	assert.Greater(t, overlap, 0, "expected at least one shared chunk hash across files with a common region")
}
