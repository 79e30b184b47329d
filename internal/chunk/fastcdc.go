// Package chunk implements FastCDC content-defined chunking (spec.md §4.4),
// applied to blobs above a size threshold so that identical regions across
// unrelated files deduplicate in the blob store.
package chunk

import (
	"io"

	"github.com/trybake/bake/internal/hash"
)

// Config controls chunk boundary targets. Zero values are replaced by the
// spec's defaults (2KiB / 8KiB / 64KiB).
type Config struct {
	Min int
	Avg int
	Max int
	// Algo is the hash algorithm used to identify each chunk's content.
	Algo hash.Algo
}

// DefaultConfig returns spec.md §4.4's default zone sizes.
func DefaultConfig() Config {
	return Config{Min: 2 * 1024, Avg: 8 * 1024, Max: 64 * 1024, Algo: hash.Default}
}

func (c Config) normalized() Config {
	if c.Min <= 0 {
		c.Min = 2 * 1024
	}
	if c.Avg <= 0 {
		c.Avg = 8 * 1024
	}
	if c.Max <= 0 {
		c.Max = 64 * 1024
	}
	if c.Algo == "" {
		c.Algo = hash.Default
	}
	return c
}

// maskBits returns the number of low bits a boundary's gear-hash value must
// have set to zero for a cut to be eligible at that target size; log2(avg)
// gives a cut probability of roughly 1/avg bytes, and the smaller/larger
// masks bias cuts earlier/later to concentrate the distribution near avg.
func maskBits(target int) uint {
	bits := uint(0)
	for (1 << bits) < target {
		bits++
	}
	return bits
}

// Chunk describes one content-defined slice of a larger blob.
type Chunk struct {
	Offset int64
	Length int64
	Hash   hash.BlobHash
}

// gearTable is a fixed pseudo-random 256-entry table used to build the
// rolling gear hash, following the algorithm described by Xia et al. and
// used by restic/kopia-style chunkers. Values are derived deterministically
// from a simple LCG seeded with a fixed constant so the table is stable
// across builds (no embedded randomness, no external dependency).
var gearTable = buildGearTable()

func buildGearTable() [256]uint64 {
	var t [256]uint64
	seed := uint64(0x9E3779B97F4A7C15)
	for i := range t {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		t[i] = seed
	}
	return t
}

// Split reads r fully and yields content-defined chunks using a gear-hash
// rolling window. maskSmall is the stricter mask, applied between Min and
// Avg so early cuts are rare; maskLarge is the looser mask applied past Avg
// so a cut usually lands well before Max. Together they concentrate chunk
// sizes around Avg.
func Split(r io.Reader, cfg Config, yield func(Chunk, []byte) error) error {
	cfg = cfg.normalized()
	maskSmall := uint64(1)<<maskBits(cfg.Avg*4) - 1
	maskLarge := uint64(1)<<maskBits(cfg.Avg/4) - 1

	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var offset int64
	n := len(buf)
	for offset < int64(n) {
		start := offset
		end := cutPoint(buf, int(offset), cfg, maskSmall, maskLarge)
		data := buf[start:end]
		h, err := hash.HashBytes(cfg.Algo, data)
		if err != nil {
			return err
		}
		if err := yield(Chunk{Offset: start, Length: int64(len(data)), Hash: h}, data); err != nil {
			return err
		}
		offset = end
	}
	return nil
}

// cutPoint finds the next chunk boundary starting at start, scanning at
// most cfg.Max bytes. It applies the small mask between Min and Avg bytes
// into the window, then the large mask between Avg and Max, and forces a
// cut at Max if no gear-hash boundary qualifies first.
func cutPoint(buf []byte, start int, cfg Config, maskSmall, maskLarge uint64) int {
	n := len(buf)
	end := start + cfg.Max
	if end > n {
		end = n
	}
	if end-start <= cfg.Min {
		return end
	}

	var fp uint64
	pos := start
	minEnd := start + cfg.Min
	avgEnd := start + cfg.Avg
	if avgEnd > end {
		avgEnd = end
	}

	for ; pos < minEnd && pos < n; pos++ {
		fp = (fp << 1) + gearTable[buf[pos]]
	}
	for ; pos < avgEnd; pos++ {
		fp = (fp << 1) + gearTable[buf[pos]]
		if fp&maskSmall == 0 {
			return pos + 1
		}
	}
	for ; pos < end; pos++ {
		fp = (fp << 1) + gearTable[buf[pos]]
		if fp&maskLarge == 0 {
			return pos + 1
		}
	}
	return end
}
