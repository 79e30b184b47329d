package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertAll(t *testing.T, g *Graph, nodes ...Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, g.Insert(n))
	}
}

func TestInsertDetectsDirectCycle(t *testing.T) {
	g := New()
	require.NoError(t, g.Insert(Node{FQN: "build:a", DependsOn: []string{"build:b"}}))
	err := g.Insert(Node{FQN: "build:b", DependsOn: []string{"build:a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build:a")
	assert.Contains(t, err.Error(), "build:b")
}

func TestInsertDetectsSelfCycle(t *testing.T) {
	g := New()
	err := g.Insert(Node{FQN: "build:a", DependsOn: []string{"build:a"}})
	require.Error(t, err)
}

func TestInsertAllowsDiamondDependency(t *testing.T) {
	g := New()
	insertAll(t, g,
		Node{FQN: "build:base"},
		Node{FQN: "build:left", DependsOn: []string{"build:base"}},
		Node{FQN: "build:right", DependsOn: []string{"build:base"}},
		Node{FQN: "build:top", DependsOn: []string{"build:left", "build:right"}},
	)
}

func TestDependsOnReturnsDeclaredDependencies(t *testing.T) {
	g := buildSampleGraph(t)
	assert.Equal(t, []string{"build:compile"}, g.DependsOn("build:test"))
	assert.Nil(t, g.DependsOn("build:compile"))
	assert.Nil(t, g.DependsOn("no:such"))
}

func buildSampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	insertAll(t, g,
		Node{FQN: "build:compile", Tags: []string{"fast"}},
		Node{FQN: "build:test", DependsOn: []string{"build:compile"}, Tags: []string{"slow"}},
		Node{FQN: "deploy:push", DependsOn: []string{"build:test"}, Tags: []string{"slow"}},
	)
	return g
}

func TestSelectByExactPatternClosesOverDependencies(t *testing.T) {
	g := buildSampleGraph(t)
	c, err := g.Select([]string{"deploy:push"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy:push"}, c.Selected)
	assert.Equal(t, []string{"build:compile", "build:test", "deploy:push"}, c.All)
}

func TestSelectEmptyPatternsSelectsEverything(t *testing.T) {
	g := buildSampleGraph(t)
	c, err := g.Select(nil, false, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"build:compile", "build:test", "deploy:push"}, c.Selected)
}

func TestSelectWithEmptyCookbookHalfMatchesAnyCookbook(t *testing.T) {
	g := buildSampleGraph(t)
	c, err := g.Select([]string{":test"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"build:test"}, c.Selected)
}

func TestSelectWithRegexMatchesAcrossCookbooks(t *testing.T) {
	g := buildSampleGraph(t)
	c, err := g.Select([]string{".*:push"}, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy:push"}, c.Selected)
}

func TestSelectFiltersByTagBeforeClosing(t *testing.T) {
	g := buildSampleGraph(t)
	c, err := g.Select(nil, false, []string{"fast"})
	require.NoError(t, err)
	assert.Equal(t, []string{"build:compile"}, c.Selected)
	assert.Equal(t, []string{"build:compile"}, c.All)
}

func TestSelectRejectsMalformedSelector(t *testing.T) {
	g := buildSampleGraph(t)
	_, err := g.Select([]string{"no-colon-here"}, false, nil)
	assert.Error(t, err)
}

func TestLevelsOrdersByDependencyDepth(t *testing.T) {
	g := buildSampleGraph(t)
	c, err := g.Select([]string{"deploy:push"}, false, nil)
	require.NoError(t, err)

	levels, err := g.Levels(c)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"build:compile"}, levels[0])
	assert.Equal(t, []string{"build:test"}, levels[1])
	assert.Equal(t, []string{"deploy:push"}, levels[2])
}

func TestLevelsGroupsIndependentRecipesTogether(t *testing.T) {
	g := New()
	insertAll(t, g,
		Node{FQN: "build:base"},
		Node{FQN: "build:left", DependsOn: []string{"build:base"}},
		Node{FQN: "build:right", DependsOn: []string{"build:base"}},
	)
	c, err := g.Select(nil, false, nil)
	require.NoError(t, err)

	levels, err := g.Levels(c)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, []string{"build:base"}, levels[0])
	assert.Equal(t, []string{"build:left", "build:right"}, levels[1])
}
