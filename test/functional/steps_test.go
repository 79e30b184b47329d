package functional

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

func writeFixture(root, relPath, content string) error {
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(strings.TrimPrefix(content, "\n")), 0o644)
}

func aProjectRootWith(ctx context.Context, doc string) error {
	state := getState(ctx)
	return writeFixture(state.root, "bake.yml", doc)
}

func aCookbookWith(ctx context.Context, name, doc string) error {
	state := getState(ctx)
	return writeFixture(state.root, filepath.Join("cookbooks", name, "cookbook.yml"), doc)
}

func aFileWithContent(ctx context.Context, relPath, doc string) error {
	state := getState(ctx)
	return writeFixture(state.root, relPath, doc)
}

func runBake(state *testState, extraEnv []string, args ...string) error {
	cmd := exec.Command(state.binPath, args...)
	cmd.Dir = state.root
	cmd.Env = append(os.Environ(), extraEnv...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	state.stdout = stdout.String()
	state.stderr = stderr.String()

	if err == nil {
		state.exitCode = 0
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		state.exitCode = exitErr.ExitCode()
		return nil
	}
	return fmt.Errorf("running bake: %w", err)
}

func iRunBake(ctx context.Context) error {
	state := getState(ctx)
	return runBake(state, nil)
}

func iRunBakeWithEnv(ctx context.Context, name, value string) error {
	state := getState(ctx)
	return runBake(state, []string{name + "=" + value})
}

func iRunBakeWithArgs(ctx context.Context, a, b string) error {
	state := getState(ctx)
	return runBake(state, nil, a, b)
}

func theExitCodeIs(ctx context.Context, expected int) error {
	state := getState(ctx)
	if state.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nstdout: %s\nstderr: %s",
			expected, state.exitCode, state.stdout, state.stderr)
	}
	return nil
}

func theOutputContains(ctx context.Context, text string) error {
	state := getState(ctx)
	if !strings.Contains(state.stdout, text) {
		return fmt.Errorf("expected stdout to contain %q, got:\n%s", text, state.stdout)
	}
	return nil
}

func theFileContains(ctx context.Context, relPath, text string) error {
	state := getState(ctx)
	data, err := os.ReadFile(filepath.Join(state.root, relPath))
	if err != nil {
		return fmt.Errorf("reading %s: %w", relPath, err)
	}
	if !strings.Contains(string(data), text) {
		return fmt.Errorf("expected %s to contain %q, got:\n%s", relPath, text, string(data))
	}
	return nil
}

func theLocalCacheContainsExactlyNBlobs(ctx context.Context, countStr string) error {
	state := getState(ctx)
	want, err := strconv.Atoi(countStr)
	if err != nil {
		return err
	}

	got := 0
	blobsDir := filepath.Join(state.root, ".bake", "cache", "blobs")
	err = filepath.Walk(blobsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && info.Name() == "data" {
			got++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %d blob(s) in local cache, got %d", want, got)
	}
	return nil
}
