// Package cachestrategy orchestrates the blob store and action cache into
// the two operations the executor calls (spec.md §4.6): lookup and store.
package cachestrategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trybake/bake/internal/actioncache"
	"github.com/trybake/bake/internal/blobindex"
	"github.com/trybake/bake/internal/blobstore"
	"github.com/trybake/bake/internal/hash"
	"github.com/trybake/bake/internal/log"
)

// Mode selects which tiers participate and in what order.
type Mode string

const (
	LocalOnly   Mode = "local_only"
	RemoteOnly  Mode = "remote_only"
	LocalFirst  Mode = "local_first"
	RemoteFirst Mode = "remote_first"
	Disabled    Mode = "disabled"
)

// Tier bundles a blob store and its paired manifest store. Remote marks a
// remote tier; every other tier is local, whatever its registration order.
type Tier struct {
	Name      string
	Blobs     blobstore.Store
	Manifests actioncache.ManifestStore
	Remote    bool
}

// Declared is one output a recipe said it would produce, resolved to an
// actual path in the recipe's working directory.
type Declared struct {
	Path       string // relative to workdir
	Executable bool
	Directory  bool
}

// Hit is the result of a successful lookup: outputs have been restored to
// the recipe's working directory.
type Hit struct {
	Manifest actioncache.Manifest
}

// StoreResult summarizes what Store wrote.
type StoreResult struct {
	OutputCount    int
	BytesWritten   int64
	ManifestStored bool
}

// Strategy is the cache orchestrator: a mode, an ordered tier list, and the
// signing secret (empty means cache disabled regardless of Mode, per
// spec.md §4.5's no-insecure-fallback rule).
type Strategy struct {
	Mode   Mode
	Tiers  []Tier
	Secret string
	Log    log.Logger

	// Index, if set, is recorded into on every stored output and touched on
	// every restored hit (spec.md §4.3). Nil disables indexing without
	// otherwise affecting cache behavior.
	Index *blobindex.Index
}

// New builds a Strategy. Each tier's Remote field, not its position in
// tiers, decides whether it is local or remote.
func New(mode Mode, secret string, logger log.Logger, tiers ...Tier) *Strategy {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &Strategy{Mode: mode, Tiers: tiers, Secret: secret, Log: logger}
}

// orderedTiers applies Mode's filtering and ordering to the registered
// tiers.
func (s *Strategy) orderedTiers() []Tier {
	var local, remote []Tier
	for _, t := range s.Tiers {
		if t.Remote {
			remote = append(remote, t)
		} else {
			local = append(local, t)
		}
	}
	switch s.Mode {
	case LocalOnly:
		return local
	case RemoteOnly:
		return remote
	case RemoteFirst:
		return append(append([]Tier{}, remote...), local...)
	default: // LocalFirst and anything else
		return append(append([]Tier{}, local...), remote...)
	}
}

// effectivelyDisabled reports whether the cache should behave as disabled:
// either Mode says so explicitly, or no secret is configured (spec.md
// §4.5's "no insecure fallback" clause).
func (s *Strategy) effectivelyDisabled() bool {
	return s.Mode == Disabled || s.Secret == ""
}

// Lookup implements spec.md §4.6's lookup algorithm.
func (s *Strategy) Lookup(ctx context.Context, actionKey, workdir string) (*Hit, error) {
	if s.effectivelyDisabled() {
		return nil, nil
	}
	tiers := s.orderedTiers()

	var envelope []byte
	for _, t := range tiers {
		data, err := t.Manifests.Get(ctx, actionKey)
		if err == actioncache.ErrNotFound {
			continue
		}
		if err != nil {
			s.Log.Debug("cache: manifest fetch failed, trying next tier", "tier", t.Name, "error", err)
			continue
		}
		envelope = data
		break
	}
	if envelope == nil {
		return nil, nil // Miss
	}

	env, err := actioncache.UnmarshalEnvelope(envelope)
	if err != nil {
		s.Log.Debug("cache: malformed manifest envelope", "error", err)
		return nil, nil // Miss
	}
	manifest, err := actioncache.Verify(env, s.Secret)
	if err != nil {
		s.Log.Debug("cache: signature verification failed", "action_key", actionKey, "error", err)
		return nil, nil // Miss
	}

	// For each output, find a tier that has it, respecting tier order.
	type located struct {
		tierIdx int
	}
	locations := make(map[string]located, len(manifest.Outputs))
	for _, out := range manifest.Outputs {
		h, err := hash.Parse(out.Hash)
		if err != nil {
			return nil, nil // corrupt manifest: treat as miss
		}
		found := false
		for i, t := range tiers {
			ok, err := t.Blobs.Contains(ctx, h)
			if err != nil {
				continue
			}
			if ok {
				locations[out.Path] = located{tierIdx: i}
				found = true
				break
			}
		}
		if !found {
			return nil, nil // Miss: output missing everywhere
		}
	}

	for _, out := range manifest.Outputs {
		if out.DirectoryMarker {
			if err := os.MkdirAll(filepath.Join(workdir, out.Path), 0755); err != nil {
				return nil, fmt.Errorf("cachestrategy: create directory output %s: %w", out.Path, err)
			}
			continue
		}
		h, _ := hash.Parse(out.Hash)
		dest := filepath.Join(workdir, out.Path)

		// Size heuristic (spec.md §4.6 step 5): a file already present with
		// the declared size is assumed correct rather than rehashed.
		if info, statErr := os.Stat(dest); statErr == nil && info.Size() == out.Size {
			continue
		}

		loc := locations[out.Path]
		if err := s.restore(ctx, tiers[loc.tierIdx].Blobs, h, dest, out.Executable); err != nil {
			return nil, err
		}
		if loc.tierIdx > 0 {
			s.promote(ctx, tiers, loc.tierIdx, h)
		}
	}

	if s.Index != nil {
		for _, out := range manifest.Outputs {
			if out.DirectoryMarker {
				continue
			}
			h, err := hash.Parse(out.Hash)
			if err != nil {
				continue
			}
			if err := s.Index.Touch(ctx, h, time.Now()); err != nil {
				s.Log.Debug("cache: index touch failed", "hash", h.String(), "error", err)
			}
		}
	}

	return &Hit{Manifest: manifest}, nil
}

func (s *Strategy) restore(ctx context.Context, store blobstore.Store, h hash.BlobHash, dest string, executable bool) error {
	if local, ok := store.(*blobstore.LocalStore); ok {
		return local.RestoreTo(ctx, h, dest, executable)
	}
	rc, err := store.Get(ctx, h)
	if err != nil {
		return fmt.Errorf("cachestrategy: fetch output blob %s: %w", h, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("cachestrategy: create parent dir for %s: %w", dest, err)
	}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	tmp := dest + ".bake-tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("cachestrategy: create restore target: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cachestrategy: write restore target: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// promote pushes h into every tier faster than foundIdx that doesn't already
// have it. Best-effort: failures are logged, never fatal to the lookup.
func (s *Strategy) promote(ctx context.Context, tiers []Tier, foundIdx int, h hash.BlobHash) {
	rc, err := tiers[foundIdx].Blobs.Get(ctx, h)
	if err != nil {
		return
	}
	buf, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return
	}
	for i := 0; i < foundIdx; i++ {
		ok, err := tiers[i].Blobs.Contains(ctx, h)
		if err == nil && ok {
			continue
		}
		if _, err := tiers[i].Blobs.Put(ctx, bytes.NewReader(buf)); err != nil {
			s.Log.Debug("cache: promotion put failed", "tier", tiers[i].Name, "error", err)
		}
	}
}

// Store implements spec.md §4.6's store algorithm: hash and PUT every
// declared output, then build, sign, and PUT the manifest.
func (s *Strategy) Store(ctx context.Context, actionKey, workdir string, declared []Declared, startedAt, endedAt time.Time, exitCode int) (StoreResult, error) {
	if s.effectivelyDisabled() {
		return StoreResult{}, nil
	}
	tiers := s.orderedTiers()
	if len(tiers) == 0 {
		return StoreResult{}, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		outputs []actioncache.Output
		written int64
	)

	for _, d := range declared {
		d := d
		if d.Directory {
			mu.Lock()
			outputs = append(outputs, actioncache.Output{Path: d.Path, DirectoryMarker: true})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			full := filepath.Join(workdir, d.Path)
			f, err := os.Open(full)
			if err != nil {
				s.Log.Warn("cache: could not open declared output", "path", d.Path, "error", err)
				return
			}
			defer f.Close()
			buf, err := io.ReadAll(f)
			if err != nil {
				s.Log.Warn("cache: could not read declared output", "path", d.Path, "error", err)
				return
			}
			var h hash.BlobHash
			succeeded := 0
			for _, t := range tiers {
				// A local-tier (!t.Remote) put failure usually indicates disk
				// trouble and is worth a warning; a remote-tier failure is
				// routine (network blips) and only logged at debug.
				putHash, err := t.Blobs.Put(ctx, bytes.NewReader(buf))
				if err != nil {
					if !t.Remote {
						s.Log.Warn("cache: local tier put failed", "tier", t.Name, "path", d.Path, "error", err)
					} else {
						s.Log.Debug("cache: remote tier put failed", "tier", t.Name, "path", d.Path, "error", err)
					}
					continue
				}
				h = putHash
				succeeded++
			}
			if succeeded == 0 {
				s.Log.Warn("cache: output not stored in any tier", "path", d.Path)
				return
			}
			if s.Index != nil {
				format := blobstore.DetectFormat(buf)
				if err := s.Index.Record(ctx, h, int64(len(buf)), format, time.Now()); err != nil {
					s.Log.Debug("cache: index record failed", "path", d.Path, "error", err)
				}
			}
			mu.Lock()
			outputs = append(outputs, actioncache.Output{Path: d.Path, Hash: h.String(), Size: int64(len(buf)), Executable: d.Executable})
			written += int64(len(buf))
			mu.Unlock()
		}()
	}
	wg.Wait()

	manifest := actioncache.Manifest{
		ActionKey: actionKey,
		Outputs:   outputs,
		StartedAt: startedAt.Unix(),
		EndedAt:   endedAt.Unix(),
		ExitCode:  exitCode,
	}
	env, err := actioncache.Sign(manifest, s.Secret)
	if err != nil {
		return StoreResult{OutputCount: len(outputs), BytesWritten: written}, nil
	}
	wire, err := actioncache.MarshalEnvelope(env)
	if err != nil {
		return StoreResult{}, fmt.Errorf("cachestrategy: marshal manifest envelope: %w", err)
	}

	stored := false
	for _, t := range tiers {
		if err := t.Manifests.Put(ctx, actionKey, wire); err != nil {
			s.Log.Debug("cache: manifest put failed", "tier", t.Name, "error", err)
			continue
		}
		stored = true
	}

	return StoreResult{OutputCount: len(outputs), BytesWritten: written, ManifestStored: stored}, nil
}
