package main

import (
	"context"
	"fmt"

	"github.com/trybake/bake/internal/blobindex"
	"github.com/trybake/bake/internal/blobstore"
	"github.com/trybake/bake/internal/config"
	"github.com/trybake/bake/internal/log"
)

// runClean implements the -c/--clean path: evict every blob the local
// index knows about, then remove it from the blob store. It operates on
// the local tier only; remote tiers manage their own lifecycle.
func runClean(ctx context.Context, layout *config.Layout, policy string, logger log.Logger) error {
	idx, err := blobindex.Open(layout.IndexPath)
	if err != nil {
		return fmt.Errorf("bake: opening cache index: %w", err)
	}
	defer idx.Close()

	total, err := idx.TotalSize(ctx)
	if err != nil {
		return fmt.Errorf("bake: reading cache size: %w", err)
	}
	if total == 0 {
		logger.Info("cache already empty")
		return nil
	}

	candidates, err := idx.EvictionCandidates(ctx, total, blobindex.EvictionPolicy(policy))
	if err != nil {
		return fmt.Errorf("bake: listing eviction candidates: %w", err)
	}

	store := blobstore.NewLocalStore(layout.BlobsDir, "")
	var freed int64
	for _, e := range candidates {
		if err := store.Delete(ctx, e.Hash); err != nil {
			logger.Warn("failed to delete blob", "hash", e.Hash.String(), "error", err)
			continue
		}
		if err := idx.Remove(ctx, e.Hash); err != nil {
			logger.Warn("failed to remove index entry", "hash", e.Hash.String(), "error", err)
			continue
		}
		freed += e.Size
	}

	logger.Info("cache cleaned", "blobs_removed", len(candidates), "bytes_freed", freed)
	return nil
}
