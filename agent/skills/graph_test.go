package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraph_Edges(t *testing.T) {
	g := NewDependencyGraph()
	g.AddSkill("a", []string{"b", "c", "b"})
	g.AddSkill("b", []string{"c"})
	g.AddSkill("c", nil)

	assert.Equal(t, []string{"b", "c"}, g.Dependencies("a"))
	assert.Equal(t, []string{"a", "b"}, g.Dependents("c"))
	assert.ElementsMatch(t, []string{"b", "c"}, g.TransitiveDependencies("a"))

	g.AddSkill("a", []string{"c"})
	assert.Equal(t, []string{"a", "b"}, g.Dependents("c"))
	assert.Empty(t, g.Dependents("b"))

	g.RemoveSkill("b")
	assert.False(t, g.Has("b"))
	assert.Equal(t, []string{"a"}, g.Dependents("c"))
}

func TestDependencyGraph_DetectCycles(t *testing.T) {
	g := NewDependencyGraph()
	g.AddSkill("a", []string{"b"})
	g.AddSkill("b", []string{"a"})
	g.AddSkill("c", nil)

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, "a -> b -> a", cycles[0].String())

	_, ok := g.TopologicalSort([]string{"a", "b"})
	assert.False(t, ok)
}

func TestDependencyGraph_TopologicalSort(t *testing.T) {
	g := NewDependencyGraph()
	g.AddSkill("app", []string{"db", "log"})
	g.AddSkill("db", []string{"log"})
	g.AddSkill("log", nil)
	g.AddSkill("ui", nil)

	order, ok := g.TopologicalSort([]string{"app", "db", "log", "ui"})
	require.True(t, ok)
	assert.Equal(t, []string{"log", "ui", "db", "app"}, order)

	// 子集之外的边被忽略
	order, ok = g.TopologicalSort([]string{"app", "log"})
	require.True(t, ok)
	assert.Equal(t, []string{"log", "app"}, order)
}

func TestDependencyGraph_RebuildAndStats(t *testing.T) {
	reg := newTestRegistry(t,
		newTestSkill("a", "b", "c"),
		newTestSkill("b", "c"),
		newTestSkill("c"),
	)
	g := NewDependencyGraph()
	g.AddSkill("stale", []string{"a"})
	g.Rebuild(reg)

	assert.False(t, g.Has("stale"))
	stats := g.Stats()
	assert.Equal(t, 3, stats.TotalSkills)
	assert.Equal(t, 2, stats.SkillsWithDependencies)
	assert.Equal(t, 3, stats.TotalEdges)
	assert.Equal(t, 2, stats.MaxDependencies)
	assert.InDelta(t, 1.0, stats.AverageDependencies, 1e-9)
}
