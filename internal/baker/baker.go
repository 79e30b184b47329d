package baker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/trybake/bake/internal/cachestrategy"
	"github.com/trybake/bake/internal/errkind"
	"github.com/trybake/bake/internal/fingerprint"
	"github.com/trybake/bake/internal/graph"
	"github.com/trybake/bake/internal/hash"
	"github.com/trybake/bake/internal/log"
	"github.com/trybake/bake/internal/recipeio"
)

// Baker is the executor: a fixed set of recipe tasks, a cache strategy,
// and the concurrency/fast-fail policy to run them under.
type Baker struct {
	g       *graph.Graph
	closure graph.Closure
	units   map[string]RecipeExecUnit
	cache   *cachestrategy.Strategy
	algo    hash.Algo
	opts    Options
	log     log.Logger
}

// New builds a Baker over the given closure. units must contain an entry
// for every FQN in closure.All (see BuildUnits).
func New(g *graph.Graph, closure graph.Closure, units map[string]RecipeExecUnit, cache *cachestrategy.Strategy, algo hash.Algo, opts Options, logger log.Logger) *Baker {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &Baker{g: g, closure: closure, units: units, cache: cache, algo: algo, opts: opts, log: logger}
}

// effectiveMaxParallel implements spec.md §4.13's
// "min(max_parallel, max(1, system_threads - reserved_threads))".
func effectiveMaxParallel(opts Options) int64 {
	budget := runtime.NumCPU() - opts.ReservedThreads
	if budget < 1 {
		budget = 1
	}
	if opts.MaxParallel <= 0 {
		return int64(budget)
	}
	if opts.MaxParallel < budget {
		return int64(opts.MaxParallel)
	}
	return int64(budget)
}

// Run executes the graph's topological levels in order, per spec.md
// §4.13's execution loop, and returns every recipe's terminal outcome.
func (b *Baker) Run(ctx context.Context) (map[string]Outcome, error) {
	levels, err := b.g.Levels(b.closure)
	if err != nil {
		return nil, fmt.Errorf("baker: computing levels: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sem := semaphore.NewWeighted(effectiveMaxParallel(b.opts))
	outcomes := newOutcomeTable()
	keys := newKeyTable()

	for _, level := range levels {
		b.runLevel(runCtx, cancel, sem, level, outcomes, keys)
		if runCtx.Err() != nil && !b.opts.FastFail {
			// A Ctrl+C-style external cancellation still stops scheduling
			// further levels even when fast_fail is off.
			b.markRemainingCancelled(levels, outcomes)
			break
		}
	}

	return outcomes.snapshot(), nil
}

func (b *Baker) markRemainingCancelled(levels [][]string, outcomes *outcomeTable) {
	for _, level := range levels {
		for _, fqn := range level {
			if _, done := outcomes.get(fqn); !done {
				outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusCancelled})
			}
		}
	}
}

func (b *Baker) runLevel(ctx context.Context, cancel context.CancelCauseFunc, sem *semaphore.Weighted, level []string, outcomes *outcomeTable, keys *keyTable) {
	g, gctx := errgroup.WithContext(ctx)
	for _, fqn := range level {
		fqn := fqn
		g.Go(func() error {
			// Every task reports its outcome through the shared table
			// rather than its return value, so one recipe's failure never
			// cancels gctx for its level-mates: only an explicit fast-fail
			// cancel (below) or the caller's own ctx does that.
			b.runOne(gctx, sem, fqn, outcomes, keys)
			return nil
		})
	}
	_ = g.Wait()

	if !b.opts.FastFail {
		return
	}
	for _, fqn := range level {
		if o, ok := outcomes.get(fqn); ok && o.Status == StatusFailed {
			cancel(fmt.Errorf("baker: fast-fail triggered by %s", fqn))
			return
		}
	}
}

func (b *Baker) runOne(ctx context.Context, sem *semaphore.Weighted, fqn string, outcomes *outcomeTable, keys *keyTable) {
	unit := b.units[fqn]

	for _, dep := range unit.DependsOn {
		if o, ok := outcomes.get(dep); ok && isBlocking(o.Status) {
			outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusSkippedFailed})
			return
		}
	}

	if ctx.Err() != nil {
		outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusCancelled, Err: ctx.Err()})
		return
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusCancelled, Err: ctx.Err()})
		return
	}
	defer sem.Release(1)

	actionKey, err := fingerprint.Compute(b.algo, fingerprint.Recipe{
		Command:      unit.Command,
		CookbookRoot: unit.CookbookRoot,
		Inputs:       unit.CacheInputs,
		Env:          unit.Env,
		DependsOn:    unit.DependsOn,
	}, keys.subset(unit.DependsOn))
	if err != nil {
		outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusFailed, Err: errkind.New(errkind.Execution, err).WithRecipe(fqn)})
		return
	}
	keys.set(fqn, actionKey)

	hit, err := b.cache.Lookup(ctx, actionKey, unit.CookbookRoot)
	if err != nil {
		b.log.Warn("cache lookup failed", "recipe", fqn, "error", err)
	}
	if hit != nil {
		outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusSkippedHit, ActionKey: actionKey})
		return
	}

	exitCode, duration, runErr := b.execute(ctx, unit)
	if runErr != nil {
		outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusFailed, ActionKey: actionKey, Duration: duration,
			Err: errkind.New(errkind.Execution, runErr).WithRecipe(fqn).WithLogPath(logPathFor(unit))})
		return
	}
	if exitCode != 0 {
		outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusFailed, ActionKey: actionKey, ExitCode: exitCode, Duration: duration,
			Err: errkind.New(errkind.Execution, fmt.Errorf("recipe exited %d", exitCode)).WithRecipe(fqn).WithLogPath(logPathFor(unit))})
		return
	}

	if len(unit.CacheOutputs) > 0 {
		declared, expandErr := declareOutputs(unit.CookbookRoot, unit.CacheOutputs)
		if expandErr != nil {
			b.log.Warn("cache output expansion failed", "recipe", fqn, "error", expandErr)
		} else {
			start, end := time.Now().Add(-duration), time.Now()
			if _, storeErr := b.cache.Store(ctx, actionKey, unit.CookbookRoot, declared, start, end, exitCode); storeErr != nil {
				// Cache-store failure after a successful run is a warning, not
				// a failure, per spec.md §4.13's failure semantics.
				b.log.Warn("cache store failed", "recipe", fqn, "error", storeErr)
			}
		}
	}

	outcomes.set(fqn, Outcome{FQN: fqn, Status: StatusSuccess, ActionKey: actionKey, ExitCode: exitCode, Duration: duration})
}

func isBlocking(s Status) bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusSkippedFailed
}

func logPathFor(unit RecipeExecUnit) string {
	return recipeio.LogPath(unit.CookbookRoot, unit.Name)
}

// declareOutputs expands cache.outputs globs against root (spec.md §4.6
// step 1) the same way fingerprint.ExpandGlobs expands cache.inputs, and
// resolves each match to a workdir-relative Declared.
func declareOutputs(root string, patterns []string) ([]cachestrategy.Declared, error) {
	matches, err := fingerprint.ExpandGlobs(root, patterns)
	if err != nil {
		return nil, err
	}
	out := make([]cachestrategy.Declared, 0, len(matches))
	for _, abs := range matches {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			rel = abs
		}
		d := cachestrategy.Declared{Path: filepath.ToSlash(rel)}
		if info, statErr := os.Stat(abs); statErr == nil {
			d.Directory = info.IsDir()
			d.Executable = info.Mode()&0o111 != 0
		}
		out = append(out, d)
	}
	return out, nil
}

type outcomeTable struct {
	mu sync.Mutex
	m  map[string]Outcome
}

func newOutcomeTable() *outcomeTable {
	return &outcomeTable{m: map[string]Outcome{}}
}

func (t *outcomeTable) get(fqn string) (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.m[fqn]
	return o, ok
}

func (t *outcomeTable) set(fqn string, o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[fqn] = o
}

func (t *outcomeTable) snapshot() map[string]Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Outcome, len(t.m))
	for k, v := range t.m {
		out[k] = v
	}
	return out
}

type keyTable struct {
	mu sync.Mutex
	m  map[string]string
}

func newKeyTable() *keyTable {
	return &keyTable{m: map[string]string{}}
}

func (t *keyTable) set(fqn, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[fqn] = key
}

func (t *keyTable) subset(fqns []string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(fqns))
	for _, fqn := range fqns {
		out[fqn] = t.m[fqn]
	}
	return out
}
