package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trybake/bake/internal/errkind"
	"github.com/trybake/bake/internal/recipetemplate"
	"github.com/trybake/bake/internal/template"
	"github.com/trybake/bake/internal/vars"
)

// rawCookbook mirrors cookbook.yml's YAML shape. Variables/Overrides are
// kept as raw nodes (not parsed maps) so their source text can be rendered
// against the parent context before structural parsing, per spec.md §4.8.
type rawCookbook struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Env         []string             `yaml:"env"`
	Variables   yaml.Node            `yaml:"variables"`
	Overrides   yaml.Node            `yaml:"overrides"`
	Recipes     map[string]rawRecipe `yaml:"recipes"`
}

type rawRecipe struct {
	Description string         `yaml:"description"`
	Run         string         `yaml:"run"`
	Template    string         `yaml:"template"`
	Params      map[string]any `yaml:"params"`
	DependsOn   []string       `yaml:"depends_on"`
	Env         []string       `yaml:"env"`
	Variables   yaml.Node      `yaml:"variables"`
	Overrides   yaml.Node      `yaml:"overrides"`
	Tags        []string       `yaml:"tags"`
	Cache       *rawCache      `yaml:"cache"`
	When        string         `yaml:"when"`
}

type rawCache struct {
	Inputs  []string `yaml:"inputs"`
	Outputs []string `yaml:"outputs"`
}

// rawNodeText re-marshals a yaml.Node back to source text, preserving
// unrendered {{...}} expressions embedded in scalar values.
func rawNodeText(n yaml.Node) (string, error) {
	if n.IsZero() {
		return "", nil
	}
	out, err := yaml.Marshal(&n)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// discoverCookbook performs spec.md §4.10 step 7: a structural pass
// sufficient to discover every recipe header (name, dependencies, tags,
// when-gate), without rendering run/template/params bodies.
func discoverCookbook(ctx context.Context, p *Project, path string) (*Cookbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawCookbook
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errkind.New(errkind.Configuration, err).WithLocation(path, 0)
	}

	varsText, err := rawNodeText(raw.Variables)
	if err != nil {
		return nil, err
	}
	overridesText, err := rawNodeText(raw.Overrides)
	if err != nil {
		return nil, err
	}
	cbVars, err := vars.Extend(ctx, p.Variables, varsText, overridesText, p.BuildEnv)
	if err != nil {
		return nil, errkind.New(errkind.Configuration, err).WithLocation(path, 0)
	}
	cbRoot := filepath.Dir(path)
	cbVars = vars.WithBuiltinScope(cbVars, template.NSCookbook, map[string]string{
		"root": cbRoot,
		"name": raw.Name,
	})

	cb := &Cookbook{
		Path:        cbRoot,
		Name:        raw.Name,
		Description: raw.Description,
		DeclaredEnv: raw.Env,
		Variables:   cbVars,
		raw:         raw,
		state:       stateDiscovered,
		Recipes:     make(map[string]*Recipe, len(raw.Recipes)),
	}

	for name, rr := range raw.Recipes {
		if rr.Run != "" && rr.Template != "" {
			return nil, errkind.New(errkind.Configuration, fmt.Errorf("recipe declares both run and template")).
				WithRecipe(cb.Name + ":" + name).WithLocation(path, 0)
		}
		enabled := true
		if strings.TrimSpace(rr.When) != "" {
			enabled, err = evalWhen(ctx, rr.When, cbVars)
			if err != nil {
				return nil, errkind.New(errkind.Template, err).WithRecipe(cb.Name + ":" + name)
			}
		}
		for _, dep := range rr.DependsOn {
			if dep == name || dep == cb.Name+":"+name {
				return nil, errkind.New(errkind.Configuration, fmt.Errorf("recipe depends on itself")).
					WithRecipe(cb.Name + ":" + name).WithRule("no self-dependency")
			}
		}
		cb.Recipes[name] = &Recipe{
			Name:      name,
			Cookbook:  cb.Name,
			Enabled:   enabled,
			DependsOn: rr.DependsOn,
			Tags:      rr.Tags,
			Env:       rr.Env,
		}
	}
	return cb, nil
}

// evalWhen renders cond (a template expression) against scope and
// interprets the result as a boolean gate.
func evalWhen(ctx context.Context, cond string, scope template.Scope) (bool, error) {
	tmpl, err := template.Parse(cond)
	if err != nil {
		return false, err
	}
	rc := template.NewRenderContext(scope)
	out, err := template.Render(ctx, tmpl, rc)
	if err != nil {
		return false, err
	}
	out = strings.TrimSpace(out)
	return out != "" && out != "false" && out != "0", nil
}

// FullLoad materializes every enabled recipe in cb: renders its run command
// (or, for a template recipe, the command of the template instantiated
// through p.Templates) against the recipe's own variable context. Cache
// globs and the description are copied as written, without rendering.
// Idempotent.
func (cb *Cookbook) FullLoad(ctx context.Context, p *Project) error {
	if cb.state == stateFull {
		return nil
	}
	for name, rr := range cb.raw.Recipes {
		recipe := cb.Recipes[name]
		if !recipe.Enabled {
			continue
		}

		varsText, err := rawNodeText(rr.Variables)
		if err != nil {
			return err
		}
		overridesText, err := rawNodeText(rr.Overrides)
		if err != nil {
			return err
		}
		recipeVars, err := vars.Extend(ctx, cb.Variables, varsText, overridesText, p.BuildEnv)
		if err != nil {
			return errkind.New(errkind.Configuration, err).WithRecipe(recipe.FQN())
		}
		recipeVars = vars.WithBuiltinScope(recipeVars, template.NSRecipe, map[string]string{
			"name":     recipe.Name,
			"cookbook": cb.Name,
		})
		recipe.Variables = recipeVars
		recipe.Description = rr.Description

		rc := template.NewRenderContext(recipeVars)
		registerProjectHelpers(rc, p)

		if rr.Cache != nil {
			recipe.CacheInputs = rr.Cache.Inputs
			recipe.CacheOutputs = rr.Cache.Outputs
		}

		switch {
		case rr.Template != "":
			bound, err := instantiateTemplate(ctx, p, rr.Template, rr.Params)
			if err != nil {
				return errkind.New(errkind.Template, err).WithRecipe(recipe.FQN())
			}
			recipe.TemplateRef = rr.Template
			recipe.TemplateParams = rr.Params
			if run, ok := bound["command"].(string); ok {
				rendered, err := renderString(ctx, run, rc)
				if err != nil {
					return errkind.New(errkind.Template, err).WithRecipe(recipe.FQN())
				}
				recipe.Run = rendered
			}
		case rr.Run != "":
			rendered, err := renderString(ctx, rr.Run, rc)
			if err != nil {
				return errkind.New(errkind.Template, err).WithRecipe(recipe.FQN())
			}
			recipe.Run = rendered
		default:
			return errkind.New(errkind.Configuration, fmt.Errorf("recipe has neither run nor template")).WithRecipe(recipe.FQN())
		}
	}
	cb.state = stateFull
	return nil
}

func renderString(ctx context.Context, src string, rc *template.RenderContext) (string, error) {
	tmpl, err := template.Parse(src)
	if err != nil {
		return "", err
	}
	return template.Render(ctx, tmpl, rc)
}

func instantiateTemplate(ctx context.Context, p *Project, name string, params map[string]any) (map[string]any, error) {
	if p.Templates == nil {
		return nil, fmt.Errorf("no templates registered; recipe references %q", name)
	}
	resolved, err := p.Templates.Resolve(name)
	if err != nil {
		return nil, err
	}
	return recipetemplate.Instantiate(ctx, resolved, params)
}

func registerProjectHelpers(rc *template.RenderContext, p *Project) {
	for name, h := range p.Helpers {
		fn, err := h.AsTemplateHelper()
		if err != nil {
			continue
		}
		rc.Register(name, fn)
	}
}
