// Package blobstore implements Bake's content-addressed blob storage tiers
// (spec.md §4.2): a local filesystem store, S3 and GCS remote stores, and a
// layered composite with get-promotion.
package blobstore

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/trybake/bake/internal/hash"
)

// ErrNotFound is returned by Get when the hash is absent from the store.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is the capability set every blob-store tier implements. It mirrors
// spec.md §4.2: put is idempotent (equal content yields equal hash and no
// duplicate storage), get/contains/delete operate by hash, and list
// enumerates the whole tier.
type Store interface {
	// Put stores content read from r and returns its content hash. Calling
	// Put with content that is already present is a no-op beyond computing
	// the hash to confirm identity.
	Put(ctx context.Context, r io.Reader) (hash.BlobHash, error)

	// Get opens the blob for h. Returns ErrNotFound if absent.
	Get(ctx context.Context, h hash.BlobHash) (io.ReadCloser, error)

	// Contains reports whether h is present in this tier.
	Contains(ctx context.Context, h hash.BlobHash) (bool, error)

	// Delete removes h from this tier. Deleting an absent hash is not an
	// error.
	Delete(ctx context.Context, h hash.BlobHash) error

	// List enumerates every hash present in this tier.
	List(ctx context.Context) ([]hash.BlobHash, error)
}

// BatchResult is the outcome of a single item in a batch operation.
type BatchResult struct {
	Hash hash.BlobHash
	Err  error
}

// ContainsMany checks presence of every hash in hashes with bounded
// concurrency, per spec.md §4.2's "batch variants ... with bounded
// parallelism". concurrency <= 0 means unbounded.
func ContainsMany(ctx context.Context, s Store, hashes []hash.BlobHash, concurrency int) map[hash.BlobHash]bool {
	if concurrency <= 0 {
		concurrency = len(hashes)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make(map[hash.BlobHash]bool, len(hashes))
	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for _, h := range hashes {
		h := h
		wg.Add(1)
		_ = sem.Acquire(ctx, 1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			ok, err := s.Contains(ctx, h)
			mu.Lock()
			results[h] = err == nil && ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
