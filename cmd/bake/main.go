package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trybake/bake/internal/baker"
	"github.com/trybake/bake/internal/config"
	"github.com/trybake/bake/internal/hash"
	"github.com/trybake/bake/internal/log"
	"github.com/trybake/bake/internal/project"
)

var (
	pathFlag                string
	jobsFlag                int
	reservedThreadsFlag     int
	failFastFlag            bool
	noFailFastFlag          bool
	verboseFlag             bool
	dryRunFlag              bool
	showPlanFlag            bool
	treeFlag                bool
	defineFlags             []string
	regexFlag               bool
	tagFlags                []string
	envFlag                 string
	cacheModeFlag           string
	skipCacheFlag           bool
	cleanFlag               bool
	forceVersionOverrideFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "bake [selector...]",
	Short: "A dependency-aware, content-addressed task runner",
	Long: `bake runs recipes declared across a project's cookbooks, resolving
their dependency graph, fingerprinting each recipe's command, inputs,
environment, and upstream action keys, and skipping any recipe whose
fingerprint already has a cached outcome.

Selectors are "cookbook:recipe" patterns (exact names by default, regular
expressions with --regex); an empty half matches any cookbook or recipe. With no
selectors, every recipe in the project is selected.`,
	Args: cobra.ArbitraryArgs,
	RunE: runBake,
}

func init() {
	rootCmd.Flags().StringVarP(&pathFlag, "path", "p", ".", "project or subdirectory to start discovery from")
	rootCmd.Flags().IntVarP(&jobsFlag, "jobs", "j", 0, "maximum parallel recipes (0 = system default)")
	rootCmd.Flags().IntVar(&reservedThreadsFlag, "reserved-threads", 0, "threads to leave unused when computing the default parallelism")
	rootCmd.Flags().BoolVarP(&failFastFlag, "fail-fast", "f", false, "cancel remaining recipes after the first failure")
	rootCmd.Flags().BoolVar(&noFailFastFlag, "no-fail-fast", false, "let independent recipes keep running after a failure")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "stream recipe output to the terminal as well as its log file")
	rootCmd.Flags().BoolVarP(&dryRunFlag, "dry-run", "n", false, "resolve the graph and print the plan without running anything")
	rootCmd.Flags().BoolVarP(&showPlanFlag, "show-plan", "e", false, "print the level-by-level execution plan and exit")
	rootCmd.Flags().BoolVarP(&treeFlag, "tree", "t", false, "print the dependency tree of each selected recipe and exit")
	rootCmd.Flags().StringArrayVarP(&defineFlags, "define", "D", nil, "override a declared variable, name=value (repeatable)")
	rootCmd.Flags().BoolVar(&regexFlag, "regex", false, "treat selectors as regular expressions instead of exact names")
	rootCmd.Flags().StringArrayVar(&tagFlags, "tag", nil, "restrict the selection to recipes carrying this tag (repeatable)")
	rootCmd.Flags().StringVar(&envFlag, "env", "", "variable override group to apply (bake.yml's overrides:)")
	rootCmd.Flags().StringVar(&cacheModeFlag, "cache", "", "cache mode: local_only, remote_only, local_first, remote_first, disabled")
	rootCmd.Flags().BoolVar(&skipCacheFlag, "skip-cache", false, "disable the cache for this run")
	rootCmd.Flags().BoolVarP(&cleanFlag, "clean", "c", false, "evict every blob from the local cache and exit")
	rootCmd.Flags().BoolVar(&forceVersionOverrideFlag, "force-version-override", false, "run even if bake.yml's min_version exceeds this build")

	rootCmd.Version = config.CurrentVersion
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bake:", err)
		exitWithCode(ExitGeneral)
	}
}

func newLogger() log.Logger {
	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return log.New(handler)
}

func runBake(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger()
	log.SetDefault(logger)

	overrides, err := parseDefines(defineFlags)
	if err != nil {
		exitWithCode(ExitValidation)
		return err
	}

	p, err := project.Load(ctx, pathFlag, project.Options{
		BuildEnv:             envFlag,
		CLIOverrides:         overrides,
		ForceVersionOverride: forceVersionOverrideFlag,
	})
	if err != nil {
		exitWithCode(ExitGeneral)
		return err
	}

	layout := config.NewLayout(p.Root)

	if cleanFlag {
		if err := runClean(ctx, layout, p.Cache.EvictionPolicy, logger); err != nil {
			exitWithCode(ExitGeneral)
			return err
		}
		return nil
	}

	g, err := baker.InsertGraph(p)
	if err != nil {
		exitWithCode(ExitValidation)
		return err
	}

	closure, err := g.Select(args, regexFlag, tagFlags)
	if err != nil {
		exitWithCode(ExitValidation)
		return err
	}

	if treeFlag {
		printTree(g, closure)
		return nil
	}

	levels, err := g.Levels(closure)
	if err != nil {
		exitWithCode(ExitValidation)
		return err
	}
	if showPlanFlag || dryRunFlag {
		printLevels(levels)
		return nil
	}

	units, err := baker.BuildUnits(ctx, p, closure)
	if err != nil {
		exitWithCode(ExitGeneral)
		return err
	}

	cache, err := buildCacheStrategy(ctx, p, layout, logger)
	if err != nil {
		exitWithCode(ExitGeneral)
		return err
	}
	if cache.Index != nil {
		defer cache.Index.Close()
	}

	opts := baker.Options{
		MaxParallel:      effectiveJobs(jobsFlag, p),
		ReservedThreads:  effectiveReserved(reservedThreadsFlag, p),
		FastFail:         effectiveFastFail(p),
		CleanEnvironment: p.Config.CleanEnvironment,
		Verbose:          verboseFlag || p.Config.Verbose,
	}

	b := baker.New(g, closure, units, cache, hash.Default, opts, logger)
	outcomes, err := b.Run(ctx)
	if err != nil {
		exitWithCode(ExitGeneral)
		return err
	}

	printSummary(outcomes)

	for _, o := range outcomes {
		if o.Status == baker.StatusFailed || o.Status == baker.StatusSkippedFailed {
			exitWithCode(ExitRecipeFailed)
			return nil
		}
	}
	return nil
}

// effectiveFastFail applies the CLI's explicit on/off flags over bake.yml's
// config.fast_fail default; --no-fail-fast always wins over --fail-fast if
// both are somehow set.
func effectiveFastFail(p *project.Project) bool {
	if noFailFastFlag {
		return false
	}
	if failFastFlag {
		return true
	}
	return p.Config.FastFail
}

func effectiveJobs(flag int, p *project.Project) int {
	if flag > 0 {
		return flag
	}
	return config.GetMaxParallel(p.Config.MaxParallel)
}

func effectiveReserved(flag int, p *project.Project) int {
	if flag > 0 {
		return flag
	}
	return config.GetReservedThreads(p.Config.ReservedThreads)
}

// parseDefines turns ["name=value", ...] into a map, per spec.md §6's
// -D/--define flag.
func parseDefines(defines []string) (map[string]string, error) {
	out := make(map[string]string, len(defines))
	for _, d := range defines {
		name, value, ok := strings.Cut(d, "=")
		if !ok {
			return nil, fmt.Errorf("bake: malformed --define %q, expected name=value", d)
		}
		out[name] = value
	}
	return out, nil
}

func printSummary(outcomes map[string]baker.Outcome) {
	names := make([]string, 0, len(outcomes))
	for fqn := range outcomes {
		names = append(names, fqn)
	}
	sort.Strings(names)
	for _, fqn := range names {
		o := outcomes[fqn]
		fmt.Printf("%-8s %s\n", o.Status, fqn)
		if o.Err != nil {
			fmt.Printf("  %s\n", o.Err)
		}
	}
}

