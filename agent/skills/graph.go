package skills

import (
	"sort"
	"strings"
	"sync"
)

// Cycle 一个依赖环，Path 首尾相同，例如 [a b a]
type Cycle struct {
	Path []string `json:"path"`
}

// String 返回 "a -> b -> a" 形式
func (c Cycle) String() string {
	return strings.Join(c.Path, " -> ")
}

// GraphStats 依赖图统计
type GraphStats struct {
	TotalSkills            int     `json:"totalSkills"`
	SkillsWithDependencies int     `json:"skillsWithDependencies"`
	TotalEdges             int     `json:"totalEdges"`
	AverageDependencies    float64 `json:"averageDependencies"`
	MaxDependencies        int     `json:"maxDependencies"`
}

// DependencyGraph 技能依赖有向图，边由依赖方指向被依赖方.
// 被依赖但未注册的技能只出现在边上，不算节点.
type DependencyGraph struct {
	deps       map[string][]string
	dependents map[string]map[string]struct{}
	mu         sync.RWMutex
}

// NewDependencyGraph 创建空依赖图
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string]map[string]struct{}),
	}
}

// AddSkill 添加或替换节点及其出边
func (g *DependencyGraph) AddSkill(name string, dependencies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeEdgesLocked(name)

	seen := make(map[string]struct{}, len(dependencies))
	deps := make([]string, 0, len(dependencies))
	for _, d := range dependencies {
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		deps = append(deps, d)

		if g.dependents[d] == nil {
			g.dependents[d] = make(map[string]struct{})
		}
		g.dependents[d][name] = struct{}{}
	}
	g.deps[name] = deps
}

// RemoveSkill 移除节点及其出边，入边保留（依赖方随之变为缺失依赖）
func (g *DependencyGraph) RemoveSkill(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeEdgesLocked(name)
	delete(g.deps, name)
}

func (g *DependencyGraph) removeEdgesLocked(name string) {
	for _, d := range g.deps[name] {
		if set, ok := g.dependents[d]; ok {
			delete(set, name)
			if len(set) == 0 {
				delete(g.dependents, d)
			}
		}
	}
}

// Rebuild 以注册表内容重建整张图
func (g *DependencyGraph) Rebuild(registry *Registry) {
	skills := registry.List()

	g.mu.Lock()
	g.deps = make(map[string][]string, len(skills))
	g.dependents = make(map[string]map[string]struct{})
	g.mu.Unlock()

	for _, s := range skills {
		g.AddSkill(s.Metadata.Name, s.Metadata.Dependencies.Skills)
	}
}

// Has 判断节点是否存在
func (g *DependencyGraph) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[name]
	return ok
}

// Dependencies 返回直接依赖（声明顺序）
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[name]...)
}

// Dependents 返回直接依赖 name 的技能（排序）
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.dependents[name]))
	for d := range g.dependents[name] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// TransitiveDependencies 返回全部传递依赖（不含自身），环不会导致死循环
func (g *DependencyGraph) TransitiveDependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{name: true}
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.deps[n] {
			if visited[d] {
				continue
			}
			visited[d] = true
			out = append(out, d)
			walk(d)
		}
	}
	walk(name)
	return out
}

// DetectCycles 使用 DFS + 递归栈找出所有依赖环
func (g *DependencyGraph) DetectCycles() []Cycle {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string
	var cycles []Cycle

	var dfs func(string)
	dfs = func(n string) {
		visited[n] = true
		recStack[n] = true
		path = append(path, n)

		for _, d := range g.deps[n] {
			if recStack[d] {
				start := indexOf(path, d)
				cycle := append(append([]string(nil), path[start:]...), d)
				cycles = append(cycles, Cycle{Path: cycle})
				continue
			}
			if !visited[d] {
				dfs(d)
			}
		}

		path = path[:len(path)-1]
		recStack[n] = false
	}

	for _, n := range g.sortedNodesLocked() {
		if !visited[n] {
			dfs(n)
		}
	}
	return cycles
}

// TopologicalSort 对给定子集做 Kahn 排序，依赖在前. 只考虑子集内部的边；
// 存在环时返回 false.
func (g *DependencyGraph) TopologicalSort(names []string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	subset := make(map[string]bool, len(names))
	for _, n := range names {
		subset[n] = true
	}

	inDegree := make(map[string]int, len(subset))
	for n := range subset {
		inDegree[n] = 0
	}
	for n := range subset {
		for _, d := range g.deps[n] {
			if subset[d] {
				inDegree[n]++
			}
		}
	}

	var queue []string
	for n, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(subset))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var ready []string
		for dependent := range g.dependents[n] {
			if !subset[dependent] {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(subset) {
		return nil, false
	}
	return order, true
}

// Stats 返回依赖图统计
func (g *DependencyGraph) Stats() GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GraphStats{TotalSkills: len(g.deps)}
	for _, deps := range g.deps {
		n := len(deps)
		stats.TotalEdges += n
		if n > 0 {
			stats.SkillsWithDependencies++
		}
		if n > stats.MaxDependencies {
			stats.MaxDependencies = n
		}
	}
	if stats.TotalSkills > 0 {
		stats.AverageDependencies = float64(stats.TotalEdges) / float64(stats.TotalSkills)
	}
	return stats
}

func (g *DependencyGraph) sortedNodesLocked() []string {
	nodes := make([]string, 0, len(g.deps))
	for n := range g.deps {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

func indexOf(list []string, target string) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return -1
}
