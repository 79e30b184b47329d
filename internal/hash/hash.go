// Package hash implements Bake's content-addressed identifiers (spec.md §3,
// "BlobHash", and §4.1 "Blob Hash & Hasher"). Blake3 is the default
// algorithm; SHA-256 is kept as an alternative for environments that
// standardize on FIPS-approved primitives.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algo identifies a hash algorithm. The algorithm tag always travels with
// the digest; a hash produced under one algorithm is never compared against
// one produced under another (spec.md §3 invariant).
type Algo string

const (
	Blake3 Algo = "blake3"
	SHA256 Algo = "sha256"
)

// Default is the algorithm used when a project does not override it.
const Default = Blake3

func (a Algo) valid() bool {
	return a == Blake3 || a == SHA256
}

// BlobHash is a tagged (algorithm, digest) pair. Its string form is
// "algo:hex" and it shards by the first two hex characters for directory
// fan-out in the local blob store.
type BlobHash struct {
	Algo   Algo
	Digest []byte
}

// String renders the canonical "algo:hex" form.
func (h BlobHash) String() string {
	return string(h.Algo) + ":" + hex.EncodeToString(h.Digest)
}

// IsZero reports whether h carries no digest.
func (h BlobHash) IsZero() bool {
	return len(h.Digest) == 0
}

// Shard returns the two-character directory-fan-out prefix, and the hex of
// the digest for the shard used in blobstore paths.
func (h BlobHash) Shard() (prefix, rest string) {
	hx := hex.EncodeToString(h.Digest)
	if len(hx) < 2 {
		return hx, ""
	}
	return hx[:2], hx[2:]
}

// Equal reports whether two hashes refer to the same content under the same
// algorithm. Hashes under different algorithms are never equal, even if
// their digests happen to coincide.
func (h BlobHash) Equal(o BlobHash) bool {
	if h.Algo != o.Algo {
		return false
	}
	return string(h.Digest) == string(o.Digest)
}

// Parse decodes a "algo:hex" string produced by String.
func Parse(s string) (BlobHash, error) {
	algoStr, hexStr, ok := strings.Cut(s, ":")
	if !ok {
		return BlobHash{}, fmt.Errorf("hash: malformed blob hash %q: missing algorithm tag", s)
	}
	algo := Algo(algoStr)
	if !algo.valid() {
		return BlobHash{}, fmt.Errorf("hash: unknown algorithm %q in %q", algoStr, s)
	}
	digest, err := hex.DecodeString(hexStr)
	if err != nil {
		return BlobHash{}, fmt.Errorf("hash: invalid hex digest in %q: %w", s, err)
	}
	return BlobHash{Algo: algo, Digest: digest}, nil
}

// HashBytes computes the content hash of b under algo.
func HashBytes(algo Algo, b []byte) (BlobHash, error) {
	h, err := New(algo)
	if err != nil {
		return BlobHash{}, err
	}
	h.Write(b) //nolint:errcheck // hash.Hash.Write never returns an error
	return h.Sum(), nil
}

// Hasher is a streaming hash accumulator that produces a tagged BlobHash.
type Hasher interface {
	io.Writer
	// Sum finalizes the hash and returns the tagged digest. Sum may be
	// called only once; further writes after Sum are not supported.
	Sum() BlobHash
}

type hasher struct {
	algo Algo
	h    hash.Hash
}

// New creates a streaming Hasher for the given algorithm.
func New(algo Algo) (Hasher, error) {
	switch algo {
	case Blake3:
		return &hasher{algo: algo, h: blake3.New()}, nil
	case SHA256:
		return &hasher{algo: algo, h: sha256.New()}, nil
	default:
		return nil, fmt.Errorf("hash: unknown algorithm %q", algo)
	}
}

func (h *hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

func (h *hasher) Sum() BlobHash {
	return BlobHash{Algo: h.algo, Digest: h.h.Sum(nil)}
}

// HashReader streams r through a Hasher of the given algorithm and returns
// the resulting BlobHash, without buffering the whole content in memory.
func HashReader(algo Algo, r io.Reader) (BlobHash, error) {
	h, err := New(algo)
	if err != nil {
		return BlobHash{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return BlobHash{}, fmt.Errorf("hash: failed to read stream: %w", err)
	}
	return h.Sum(), nil
}
