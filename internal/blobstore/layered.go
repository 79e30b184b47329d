package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/trybake/bake/internal/hash"
)

// LayeredStore composes ordered tiers (fastest first, e.g. local then S3)
// into a single Store. Get consults tiers in order and, on a hit in tier k,
// promotes the blob into every tier before k that doesn't already have it
// (spec.md §4.2's layered get-promotion invariant). Put writes to every tier
// in parallel and tolerates partial failure as long as at least one tier
// succeeds, since any remaining tier can still serve the blob later.
type LayeredStore struct {
	Tiers []Store
}

// NewLayeredStore composes tiers in priority order, fastest/cheapest first.
func NewLayeredStore(tiers ...Store) *LayeredStore {
	return &LayeredStore{Tiers: tiers}
}

func (s *LayeredStore) Put(ctx context.Context, r io.Reader) (hash.BlobHash, error) {
	if len(s.Tiers) == 0 {
		return hash.BlobHash{}, fmt.Errorf("blobstore: layered store has no tiers")
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return hash.BlobHash{}, fmt.Errorf("blobstore: read content for layered put: %w", err)
	}

	type result struct {
		h   hash.BlobHash
		err error
	}
	results := make([]result, len(s.Tiers))
	done := make(chan int, len(s.Tiers))
	for i, tier := range s.Tiers {
		i, tier := i, tier
		go func() {
			h, err := tier.Put(ctx, bytes.NewReader(buf))
			results[i] = result{h: h, err: err}
			done <- i
		}()
	}
	for range s.Tiers {
		<-done
	}

	var firstHash hash.BlobHash
	var firstErr error
	succeeded := 0
	for _, r := range results {
		if r.err == nil {
			succeeded++
			firstHash = r.h
		} else if firstErr == nil {
			firstErr = r.err
		}
	}
	if succeeded == 0 {
		return hash.BlobHash{}, fmt.Errorf("blobstore: layered put failed on every tier: %w", firstErr)
	}
	return firstHash, nil
}

// Get consults tiers in order, returning the first hit and promoting it into
// every faster tier that lacked it. Promotion failures are logged-worthy but
// non-fatal: the caller already has its data.
func (s *LayeredStore) Get(ctx context.Context, h hash.BlobHash) (io.ReadCloser, error) {
	for k, tier := range s.Tiers {
		rc, err := tier.Get(ctx, h)
		if err == nil {
			if k > 0 {
				buf, readErr := io.ReadAll(rc)
				rc.Close()
				if readErr != nil {
					return nil, fmt.Errorf("blobstore: read hit from tier %d for promotion: %w", k, readErr)
				}
				s.promote(ctx, h, buf, k)
				return io.NopCloser(bytes.NewReader(buf)), nil
			}
			return rc, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// promote writes buf into every tier before index k that doesn't already
// have h. Best-effort: a failed promotion does not fail the Get.
func (s *LayeredStore) promote(ctx context.Context, h hash.BlobHash, buf []byte, k int) {
	for i := 0; i < k; i++ {
		ok, err := s.Tiers[i].Contains(ctx, h)
		if err == nil && ok {
			continue
		}
		_, _ = s.Tiers[i].Put(ctx, bytes.NewReader(buf))
	}
}

func (s *LayeredStore) Contains(ctx context.Context, h hash.BlobHash) (bool, error) {
	for _, tier := range s.Tiers {
		ok, err := tier.Contains(ctx, h)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes h from every tier, collecting the first error but
// attempting all tiers regardless.
func (s *LayeredStore) Delete(ctx context.Context, h hash.BlobHash) error {
	var firstErr error
	for _, tier := range s.Tiers {
		if err := tier.Delete(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// List enumerates the union of every tier's contents.
func (s *LayeredStore) List(ctx context.Context) ([]hash.BlobHash, error) {
	seen := make(map[hash.BlobHash]struct{})
	var out []hash.BlobHash
	for _, tier := range s.Tiers {
		hashes, err := tier.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out, nil
}
