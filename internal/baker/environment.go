package baker

import "os"

// buildEnvironment materializes a recipe's child-process environment
// (spec.md §4.13 step 4): either the full inherited environment or, when
// clean is set, just PATH plus the recipe's declared variables — then a
// fixed prelude of built-in variables naming the project, cookbook, and
// recipe (spec.md's Variable Context built-ins: project.root, project.name,
// cookbook.root, cookbook.name, recipe.name, recipe.cookbook).
func buildEnvironment(unit RecipeExecUnit, clean bool) []string {
	var env []string
	if clean {
		if path, ok := os.LookupEnv("PATH"); ok {
			env = append(env, "PATH="+path)
		}
		for name, value := range unit.Env {
			env = append(env, name+"="+value)
		}
	} else {
		env = os.Environ()
		for name, value := range unit.Env {
			env = append(env, name+"="+value)
		}
	}

	return append(env,
		"BAKE_PROJECT_ROOT="+unit.ProjectRoot,
		"BAKE_PROJECT_NAME="+unit.ProjectName,
		"BAKE_COOKBOOK_ROOT="+unit.CookbookRoot,
		"BAKE_COOKBOOK_NAME="+unit.Cookbook,
		"BAKE_RECIPE_NAME="+unit.Name,
		"BAKE_RECIPE_COOKBOOK="+unit.Cookbook,
	)
}
