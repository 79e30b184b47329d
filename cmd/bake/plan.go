package main

import (
	"fmt"
	"sort"

	"github.com/trybake/bake/internal/graph"
)

// printLevels renders the level-by-level execution plan a run would follow,
// for --show-plan, without running anything.
func printLevels(levels [][]string) {
	for i, level := range levels {
		fmt.Printf("level %d:\n", i)
		for _, fqn := range level {
			fmt.Printf("  %s\n", fqn)
		}
	}
}

// printTree renders, for each selected recipe, its full dependency tree, for
// --tree.
func printTree(g *graph.Graph, c graph.Closure) {
	selected := append([]string(nil), c.Selected...)
	sort.Strings(selected)
	for _, fqn := range selected {
		fmt.Println(fqn)
		printTreeNode(g, fqn, "")
	}
}

func printTreeNode(g *graph.Graph, fqn, indent string) {
	deps := g.DependsOn(fqn)
	sort.Strings(deps)
	for i, dep := range deps {
		last := i == len(deps)-1
		branch := "├── "
		nextIndent := indent + "│   "
		if last {
			branch = "└── "
			nextIndent = indent + "    "
		}
		fmt.Printf("%s%s%s\n", indent, branch, dep)
		printTreeNode(g, dep, nextIndent)
	}
}
