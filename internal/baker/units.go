package baker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/trybake/bake/internal/graph"
	"github.com/trybake/bake/internal/project"
)

// BuildUnits materializes a RecipeExecUnit for every FQN in closure.All,
// fully loading each referenced cookbook on demand.
func BuildUnits(ctx context.Context, p *project.Project, closure graph.Closure) (map[string]RecipeExecUnit, error) {
	units := make(map[string]RecipeExecUnit, len(closure.All))
	for _, fqn := range closure.All {
		cookbookName, recipeName, ok := splitFQN(fqn)
		if !ok {
			return nil, fmt.Errorf("baker: malformed fqn %q", fqn)
		}

		cb := p.CookbookByName(cookbookName)
		if cb == nil {
			return nil, fmt.Errorf("baker: unknown cookbook %q for recipe %q", cookbookName, fqn)
		}
		if !cb.IsFull() {
			if err := cb.FullLoad(ctx, p); err != nil {
				return nil, fmt.Errorf("baker: loading cookbook %q: %w", cookbookName, err)
			}
		}

		r, ok := cb.Recipes[recipeName]
		if !ok {
			return nil, fmt.Errorf("baker: unknown recipe %q in cookbook %q", recipeName, cookbookName)
		}

		units[fqn] = RecipeExecUnit{
			FQN:          fqn,
			Name:         r.Name,
			Cookbook:     cb.Name,
			ProjectRoot:  p.Root,
			ProjectName:  p.Name,
			CookbookRoot: cb.Path,
			Command:      r.Run,
			Env:          declaredEnvValues(r.Env),
			CacheInputs:  r.CacheInputs,
			CacheOutputs: r.CacheOutputs,
			DependsOn:    qualifyDeps(cookbookName, r.DependsOn),
		}
	}
	return units, nil
}

// InsertGraph builds a graph.Graph node for every recipe in p, with
// dependency names qualified against their owning cookbook, per spec.md
// §4.11's "unqualified dependency names are resolved against the owning
// cookbook first".
func InsertGraph(p *project.Project) (*graph.Graph, error) {
	g := graph.New()
	for _, cb := range p.Cookbooks {
		for name, r := range cb.Recipes {
			if err := g.Insert(graph.Node{
				FQN:       cb.Name + ":" + name,
				DependsOn: qualifyDeps(cb.Name, r.DependsOn),
				Tags:      r.Tags,
			}); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func qualifyDeps(owningCookbook string, deps []string) []string {
	out := make([]string, len(deps))
	for i, dep := range deps {
		if strings.Contains(dep, ":") {
			out[i] = dep
		} else {
			out[i] = owningCookbook + ":" + dep
		}
	}
	return out
}

func splitFQN(fqn string) (cookbook, recipe string, ok bool) {
	idx := strings.IndexByte(fqn, ':')
	if idx < 0 {
		return "", "", false
	}
	return fqn[:idx], fqn[idx+1:], true
}

// declaredEnvValues resolves each declared variable name against the
// process environment, recording "" for any that are unset, per spec.md
// §4.12's "value empty if unset" fingerprinting rule.
func declaredEnvValues(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, _ := os.LookupEnv(name)
		out[name] = v
	}
	return out
}
