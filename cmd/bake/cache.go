package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"cloud.google.com/go/storage"

	"github.com/trybake/bake/internal/actioncache"
	"github.com/trybake/bake/internal/blobindex"
	"github.com/trybake/bake/internal/blobstore"
	"github.com/trybake/bake/internal/cachestrategy"
	"github.com/trybake/bake/internal/config"
	"github.com/trybake/bake/internal/hash"
	"github.com/trybake/bake/internal/log"
	"github.com/trybake/bake/internal/project"
)

// buildCacheStrategy wires bake.yml's cache: block and the --cache/--skip-cache
// flags into a cachestrategy.Strategy, per spec.md §6's persisted state layout
// and §4.5's secret-gated cache model.
func buildCacheStrategy(ctx context.Context, p *project.Project, layout *config.Layout, logger log.Logger) (*cachestrategy.Strategy, error) {
	if err := layout.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("bake: preparing cache directories: %w", err)
	}

	mode := cachestrategy.Mode(p.Cache.Mode)
	if mode == "" {
		mode = cachestrategy.LocalFirst
	}
	if skipCacheFlag {
		mode = cachestrategy.Disabled
	}
	if cacheModeFlag != "" {
		mode = cachestrategy.Mode(cacheModeFlag)
	}

	secret, _ := config.CacheSecret()

	localTier := cachestrategy.Tier{
		Name:      "local",
		Blobs:     blobstore.NewLocalStore(layout.BlobsDir, hash.Default),
		Manifests: actioncache.NewLocalManifestStore(layout.ACDir),
	}
	tiers := []cachestrategy.Tier{localTier}

	if rc := p.Cache.Remote; rc != nil {
		remoteTier, err := buildRemoteTier(ctx, rc)
		if err != nil {
			// A remote tier that fails to initialize (missing credentials,
			// unreachable endpoint) degrades to local-only rather than
			// aborting the run, matching cache errors' general "never
			// abort, degrade to Miss" treatment (spec.md §4.6).
			logger.Warn("remote cache tier unavailable, continuing local-only", "provider", rc.Provider, "error", err)
		} else {
			tiers = append(tiers, remoteTier)
		}
	}

	strategy := cachestrategy.New(mode, secret, logger, tiers...)

	idx, err := blobindex.Open(layout.IndexPath)
	if err != nil {
		// The index is an accelerator over the blob store, not its source of
		// truth: if it can't be opened, run without one rather than aborting.
		logger.Warn("cache index unavailable, running without eviction metadata", "error", err)
	} else {
		strategy.Index = idx
	}

	return strategy, nil
}

func buildRemoteTier(ctx context.Context, rc *project.RemoteCacheConfig) (cachestrategy.Tier, error) {
	switch rc.Provider {
	case "s3":
		blobs, err := blobstore.NewS3Store(ctx, rc.Bucket, rc.Prefix)
		if err != nil {
			return cachestrategy.Tier{}, err
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return cachestrategy.Tier{}, fmt.Errorf("load AWS config: %w", err)
		}
		manifests := actioncache.NewS3ManifestStore(s3.NewFromConfig(awsCfg), rc.Bucket, rc.Prefix)
		return cachestrategy.Tier{Name: "s3", Blobs: blobs, Manifests: manifests, Remote: true}, nil

	case "gcs":
		blobs, err := blobstore.NewGCSStore(ctx, rc.Bucket, rc.Prefix)
		if err != nil {
			return cachestrategy.Tier{}, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return cachestrategy.Tier{}, fmt.Errorf("create GCS client: %w", err)
		}
		manifests := actioncache.NewGCSManifestStore(client, rc.Bucket, rc.Prefix)
		return cachestrategy.Tier{Name: "gcs", Blobs: blobs, Manifests: manifests, Remote: true}, nil

	default:
		return cachestrategy.Tier{}, fmt.Errorf("unknown remote cache provider %q", rc.Provider)
	}
}
