package baker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/trybake/bake/internal/recipeio"
)

// terminationGrace is how long a cancelled recipe's child process is given
// to exit after SIGTERM before SIGKILL follows, per spec.md §4.13's
// cancellation model.
const terminationGrace = 5 * time.Second

// execute runs unit's command under "sh -c", with "set -e" prepended so an
// intermediate failure aborts the script, streaming output to the recipe's
// log file (and the terminal, if verbose). It returns the exit code and
// wall time; a non-nil error indicates the process could not be run at
// all, as distinct from a non-zero exit, which the caller inspects via the
// returned exit code.
func (b *Baker) execute(ctx context.Context, unit RecipeExecUnit) (int, time.Duration, error) {
	out, _, err := recipeio.OpenLog(unit.CookbookRoot, unit.Name, b.opts.Verbose)
	if err != nil {
		return 0, 0, fmt.Errorf("baker: opening recipe log: %w", err)
	}
	defer out.Close()

	cmd := exec.Command("sh", "-c", "set -e\n"+unit.Command)
	cmd.Dir = recipeio.WorkDir(unit.CookbookRoot)
	cmd.Env = buildEnvironment(unit, b.opts.CleanEnvironment)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return 0, time.Since(start), fmt.Errorf("baker: starting recipe: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		return exitCodeOf(waitErr), time.Since(start), spawnErr(waitErr)
	case <-ctx.Done():
		terminateProcessGroup(cmd.Process.Pid)
		select {
		case waitErr := <-done:
			return exitCodeOf(waitErr), time.Since(start), ctx.Err()
		case <-time.After(terminationGrace):
			killProcessGroup(cmd.Process.Pid)
			<-done
			return -1, time.Since(start), ctx.Err()
		}
	}
}

func terminateProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// spawnErr reports only errors that mean the process never ran to
// completion for reasons other than a non-zero exit, which the caller
// treats as a normal (if failing) outcome rather than an infrastructure
// error.
func spawnErr(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return fmt.Errorf("baker: running recipe: %w", err)
}
