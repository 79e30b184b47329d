package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/trybake/bake/internal/hash"
)

// Compute produces the recipe's action key from its rendered command,
// input file contents, declared environment, and dependency action keys,
// per spec.md §4.12's four-part combination. depKeys must carry an entry
// for every FQN in recipe.DependsOn.
func Compute(algo hash.Algo, recipe Recipe, depKeys map[string]string) (string, error) {
	cmdDigest, err := hash.HashBytes(algo, []byte(recipe.Command))
	if err != nil {
		return "", fmt.Errorf("fingerprint: hashing command: %w", err)
	}

	inputsDigest, err := hashInputs(algo, recipe.CookbookRoot, recipe.Inputs)
	if err != nil {
		return "", err
	}

	envDigest, err := hashEnv(algo, recipe.Env)
	if err != nil {
		return "", err
	}

	depsDigest, err := hashDeps(algo, recipe.DependsOn, depKeys)
	if err != nil {
		return "", err
	}

	h, err := hash.New(algo)
	if err != nil {
		return "", err
	}
	for _, d := range []hash.BlobHash{cmdDigest, inputsDigest, envDigest, depsDigest} {
		if _, err := h.Write([]byte(d.String())); err != nil {
			return "", fmt.Errorf("fingerprint: combining digests: %w", err)
		}
		if _, err := h.Write([]byte{0}); err != nil {
			return "", fmt.Errorf("fingerprint: combining digests: %w", err)
		}
	}
	return h.Sum().String(), nil
}

// hashInputs expands every glob in inputs against cookbookRoot, sorts the
// resulting paths, hashes each file's content, and hashes the resulting
// stable [relpath, content_hash] list. Renaming a file that shares content
// with another still changes this digest, since the relpath travels with
// each entry.
func hashInputs(algo hash.Algo, cookbookRoot string, inputs []string) (hash.BlobHash, error) {
	if len(inputs) == 0 {
		return hash.HashBytes(algo, nil)
	}

	paths, err := expandInputs(cookbookRoot, inputs)
	if err != nil {
		return hash.BlobHash{}, err
	}

	h, err := hash.New(algo)
	if err != nil {
		return hash.BlobHash{}, err
	}
	for _, path := range paths {
		rel, err := filepath.Rel(cookbookRoot, path)
		if err != nil {
			rel = path
		}
		contentHash, err := hashFile(algo, path)
		if err != nil {
			return hash.BlobHash{}, fmt.Errorf("fingerprint: hashing input %q: %w", rel, err)
		}
		fmt.Fprintf(h, "%s\x00%s\x00", filepath.ToSlash(rel), contentHash.String())
	}
	return h.Sum(), nil
}

func hashFile(algo hash.Algo, path string) (hash.BlobHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return hash.BlobHash{}, err
	}
	defer f.Close()
	return hash.HashReader(algo, f)
}

// hashEnv hashes "name=value" for each declared variable in sorted order.
func hashEnv(algo hash.Algo, env map[string]string) (hash.BlobHash, error) {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	h, err := hash.New(algo)
	if err != nil {
		return hash.BlobHash{}, err
	}
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\x00", name, env[name])
	}
	return h.Sum(), nil
}

// hashDeps concatenates dependency action keys in lexicographic order of
// FQN and hashes the result.
func hashDeps(algo hash.Algo, dependsOn []string, depKeys map[string]string) (hash.BlobHash, error) {
	fqns := append([]string{}, dependsOn...)
	sort.Strings(fqns)

	h, err := hash.New(algo)
	if err != nil {
		return hash.BlobHash{}, err
	}
	for _, fqn := range fqns {
		key, ok := depKeys[fqn]
		if !ok {
			return hash.BlobHash{}, fmt.Errorf("fingerprint: missing action key for dependency %q", fqn)
		}
		fmt.Fprintf(h, "%s=%s\x00", fqn, key)
	}
	return h.Sum(), nil
}
