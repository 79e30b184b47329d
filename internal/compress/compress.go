// Package compress implements Bake's per-blob compression (spec.md §4.4):
// magic-byte sniffing to skip already-compressed media, and Zstd encoding
// for everything else.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Format identifies how a blob is stored on disk, persisted alongside the
// blob as metadata (spec.md §3: "compression format is per-blob metadata,
// not part of the identity").
type Format string

const (
	FormatNone    Format = "none"
	FormatZstd    Format = "zstd"
	FormatChunked Format = "chunked"
)

// magic is a signature table for media that is already compressed and
// should not be re-compressed.
var magic = []struct {
	name string
	sig  []byte
}{
	{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"gif", []byte{'G', 'I', 'F', '8'}},
	{"gzip", []byte{0x1f, 0x8b}},
	{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{"mp4", []byte{0x00, 0x00, 0x00}}, // narrowed by ftyp check below
	{"zip", []byte{'P', 'K', 0x03, 0x04}},
	{"bzip2", []byte{'B', 'Z', 'h'}},
	{"xz", []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},
}

// Sniff inspects the first bytes of content and reports whether it looks
// already compressed, in which case callers should store it with
// FormatNone instead of re-compressing.
func Sniff(head []byte) bool {
	if len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")) {
		return true // MP4/MOV/ISO-BMFF container
	}
	for _, m := range magic {
		if m.name == "mp4" {
			continue // handled above via the ftyp box check
		}
		if len(head) >= len(m.sig) && bytes.Equal(head[:len(m.sig)], m.sig) {
			return true
		}
	}
	return false
}

// SniffSize is the number of leading bytes Sniff needs to see.
const SniffSize = 512

// Encode compresses src into dst at the given zstd level. Callers should
// have already called Sniff on the leading bytes and skipped Encode for
// already-compressed content.
func Encode(dst io.Writer, src io.Reader, level int) error {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return fmt.Errorf("compress: failed to create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compress: failed to encode: %w", err)
	}
	return enc.Close()
}

// Decode wraps src in a zstd decompressing reader. The caller should call
// the returned decoder's Close when done; zstd.Decoder has no required
// Close for correctness but releasing it promptly avoids holding decoder
// memory.
func Decode(src io.Reader) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("compress: failed to create zstd decoder: %w", err)
	}
	return dec, nil
}
