package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/trybake/bake/internal/chunk"
	"github.com/trybake/bake/internal/compress"
	"github.com/trybake/bake/internal/hash"
)

// Every stored object carries a 1-byte format tag ahead of its payload, so a
// tier can decode without consulting any side index. Content identity (the
// hash every Store.Put returns) is always computed over the original,
// untagged content before any of this runs — compression and chunking are
// storage-layer transforms, never part of a blob's identity (spec.md §3).
const (
	tagRaw     byte = 0
	tagZstd    byte = 1
	tagChunked byte = 2
)

// chunkThreshold is the content size at or above which a blob is split into
// content-defined chunks (spec.md §4.4) and stored as a manifest of chunk
// references instead of one object, so identical regions shared across
// otherwise-unrelated blobs are written once.
const chunkThreshold = 256 * 1024

// zstdLevel is the encoder level applied to any blob that doesn't already
// look compressed.
const zstdLevel = 3

type chunkRef struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type chunkManifest struct {
	Chunks []chunkRef `json:"chunks"`
}

// rawTier is the narrow capability each concrete Store implements so
// encodeAndStore/fetchAndDecode can persist tagged bytes under a hash this
// package decides up front, bypassing that tier's own put-time hashing.
type rawTier interface {
	rawPut(ctx context.Context, h hash.BlobHash, tag byte, payload []byte) error
	rawGet(ctx context.Context, h hash.BlobHash) (byte, io.ReadCloser, error)
	rawContains(ctx context.Context, h hash.BlobHash) (bool, error)
}

// encodeAndStore hashes buf under algo, then persists it through t: directly
// (compressed or raw, per content sniffing) if it is small, or as content-
// defined chunks plus a manifest if it is at least chunkThreshold bytes.
// Idempotent: content already present under its hash is not rewritten.
func encodeAndStore(ctx context.Context, t rawTier, algo hash.Algo, buf []byte) (hash.BlobHash, error) {
	h, err := hash.HashBytes(algo, buf)
	if err != nil {
		return hash.BlobHash{}, err
	}
	if exists, err := t.rawContains(ctx, h); err != nil {
		return hash.BlobHash{}, err
	} else if exists {
		return h, nil
	}

	if len(buf) < chunkThreshold {
		tag, payload, err := compressPayload(buf)
		if err != nil {
			return hash.BlobHash{}, err
		}
		if err := t.rawPut(ctx, h, tag, payload); err != nil {
			return hash.BlobHash{}, err
		}
		return h, nil
	}

	var refs []chunkRef
	splitErr := chunk.Split(bytes.NewReader(buf), chunk.Config{Algo: algo}, func(c chunk.Chunk, data []byte) error {
		chunkExists, err := t.rawContains(ctx, c.Hash)
		if err != nil {
			return err
		}
		if !chunkExists {
			tag, payload, err := compressPayload(data)
			if err != nil {
				return err
			}
			if err := t.rawPut(ctx, c.Hash, tag, payload); err != nil {
				return err
			}
		}
		refs = append(refs, chunkRef{Hash: c.Hash.String(), Size: c.Length})
		return nil
	})
	if splitErr != nil {
		return hash.BlobHash{}, fmt.Errorf("blobstore: chunk blob: %w", splitErr)
	}

	manifestBytes, err := json.Marshal(chunkManifest{Chunks: refs})
	if err != nil {
		return hash.BlobHash{}, fmt.Errorf("blobstore: encode chunk manifest: %w", err)
	}
	if err := t.rawPut(ctx, h, tagChunked, manifestBytes); err != nil {
		return hash.BlobHash{}, err
	}
	return h, nil
}

// DetectFormat reports the compress.Format encodeAndStore would choose for
// buf, so callers that already have the raw bytes (the cache orchestrator,
// recording index metadata) don't need to re-derive the storage tier's
// internal tagging scheme.
func DetectFormat(buf []byte) compress.Format {
	if len(buf) >= chunkThreshold {
		return compress.FormatChunked
	}
	head := buf
	if len(head) > compress.SniffSize {
		head = head[:compress.SniffSize]
	}
	if len(buf) == 0 || compress.Sniff(head) {
		return compress.FormatNone
	}
	return compress.FormatZstd
}

// compressPayload sniffs buf and zstd-encodes it unless it already looks
// compressed (spec.md §4.4).
func compressPayload(buf []byte) (byte, []byte, error) {
	head := buf
	if len(head) > compress.SniffSize {
		head = head[:compress.SniffSize]
	}
	if len(buf) == 0 || compress.Sniff(head) {
		return tagRaw, buf, nil
	}
	var out bytes.Buffer
	if err := compress.Encode(&out, bytes.NewReader(buf), zstdLevel); err != nil {
		return 0, nil, fmt.Errorf("blobstore: compress blob: %w", err)
	}
	return tagZstd, out.Bytes(), nil
}

// fetchAndDecode fetches h from t and reverses whatever encodeAndStore did:
// decompresses a single tagged object, or reassembles a chunk manifest by
// recursively fetching each referenced chunk in order.
func fetchAndDecode(ctx context.Context, t rawTier, h hash.BlobHash) (io.ReadCloser, error) {
	tag, payload, err := t.rawGet(ctx, h)
	if err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(payload)
	payload.Close()
	if err != nil {
		return nil, fmt.Errorf("blobstore: read blob %s: %w", h, err)
	}

	switch tag {
	case tagRaw:
		return io.NopCloser(bytes.NewReader(buf)), nil
	case tagZstd:
		dec, err := compress.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		out, err := io.ReadAll(dec)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("blobstore: decompress blob %s: %w", h, err)
		}
		return io.NopCloser(bytes.NewReader(out)), nil
	case tagChunked:
		var m chunkManifest
		if err := json.Unmarshal(buf, &m); err != nil {
			return nil, fmt.Errorf("blobstore: decode chunk manifest for %s: %w", h, err)
		}
		var full bytes.Buffer
		for _, ref := range m.Chunks {
			ch, err := hash.Parse(ref.Hash)
			if err != nil {
				return nil, fmt.Errorf("blobstore: parse chunk hash: %w", err)
			}
			rc, err := fetchAndDecode(ctx, t, ch)
			if err != nil {
				return nil, fmt.Errorf("blobstore: fetch chunk %s: %w", ch, err)
			}
			_, copyErr := io.Copy(&full, rc)
			rc.Close()
			if copyErr != nil {
				return nil, fmt.Errorf("blobstore: reassemble chunk %s: %w", ch, copyErr)
			}
		}
		return io.NopCloser(bytes.NewReader(full.Bytes())), nil
	default:
		return nil, fmt.Errorf("blobstore: unknown blob format tag %d for %s", tag, h)
	}
}
