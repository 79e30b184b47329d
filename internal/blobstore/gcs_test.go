package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trybake/bake/internal/hash"
)

func TestGCSStoreObjectKeyIsShardedAndPrefixed(t *testing.T) {
	h, err := hash.HashBytes(hash.Blake3, []byte("content"))
	assert.NoError(t, err)

	s := &GCSStore{bucket: "my-bucket", prefix: "bake-cache"}
	key := s.object(h)

	prefix, rest := h.Shard()
	assert.Equal(t, "bake-cache/"+string(h.Algo)+"/"+prefix+"/"+rest, key)
}

func TestGCSStoreObjectKeyWithoutPrefix(t *testing.T) {
	h, err := hash.HashBytes(hash.Blake3, []byte("content"))
	assert.NoError(t, err)

	s := &GCSStore{bucket: "my-bucket"}
	key := s.object(h)

	prefix, rest := h.Shard()
	assert.Equal(t, string(h.Algo)+"/"+prefix+"/"+rest, key)
}
