package engine

import (
	"fmt"
	"strings"

	"agentcore/internal/model"
)

// graph is the validated dependency structure of one workflow. Indices refer
// to the workflow's step slice in declaration order. Sequential steps are
// compiled into ordinary dependency edges at build time, so dependency edges
// remain the single ordering primitive for the scheduler.
type graph struct {
	steps      []model.WorkflowStep
	index      map[string]int
	deps       [][]int // incoming edges: deps[i] lists steps i waits for
	dependents [][]int // outgoing edges: dependents[i] lists steps waiting on i
	indegree   []int
}

// buildGraph validates wf and constructs its dependency graph. It rejects
// empty workflows, duplicate step IDs, unknown and self dependencies, and
// cycles; all before any step is dispatched.
func buildGraph(wf *model.Workflow) (*graph, error) {
	if len(wf.Steps) == 0 {
		return nil, model.ErrNoSteps
	}

	n := len(wf.Steps)
	g := &graph{
		steps:      wf.Steps,
		index:      make(map[string]int, n),
		deps:       make([][]int, n),
		dependents: make([][]int, n),
		indegree:   make([]int, n),
	}

	for i, step := range wf.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("%w: step at position %d has no id", model.ErrInvalidStep, i)
		}
		if _, exists := g.index[step.ID]; exists {
			return nil, fmt.Errorf("%w: %q", model.ErrDuplicateStep, step.ID)
		}
		g.index[step.ID] = i
	}

	// Explicit dependency edges, deduplicated.
	edges := make(map[[2]int]bool)
	for i, step := range wf.Steps {
		for _, dep := range step.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: step %q depends on %q", model.ErrUnknownDependency, step.ID, dep)
			}
			if j == i {
				return nil, fmt.Errorf("%w: %q", model.ErrSelfDependency, step.ID)
			}
			edges[[2]int{j, i}] = true
		}
	}

	// A sequential step is a barrier: every step declared after it gains an
	// implicit edge from it.
	for i, step := range wf.Steps {
		if !step.Sequential {
			continue
		}
		for j := i + 1; j < n; j++ {
			edges[[2]int{i, j}] = true
		}
	}

	for edge := range edges {
		from, to := edge[0], edge[1]
		g.dependents[from] = append(g.dependents[from], to)
		g.deps[to] = append(g.deps[to], from)
		g.indegree[to]++
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrCycleDetected, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// findCycle returns one cycle as a step-ID path, or nil if the graph is
// acyclic. Kahn's algorithm proves acyclicity; a DFS over the leftover nodes
// extracts a concrete witness for the error message.
func (g *graph) findCycle() []string {
	indeg := make([]int, len(g.indegree))
	copy(indeg, g.indegree)

	queue := make([]int, 0, len(indeg))
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		visited++
		for _, v := range g.dependents[u] {
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	if visited == len(g.steps) {
		return nil
	}

	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.steps))
	parent := make([]int, len(g.steps))
	for i := range parent {
		parent[i] = -1
	}

	var cycleStart, cycleEnd int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.dependents[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycleStart, cycleEnd = v, u
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.steps {
		if color[i] == white && dfs(i) {
			break
		}
	}

	// Walk parents back from cycleEnd to cycleStart, then close the loop.
	path := []string{g.steps[cycleStart].ID}
	for u := cycleEnd; u != cycleStart; u = parent[u] {
		path = append(path, g.steps[u].ID)
	}
	// parents were collected end-to-start; reverse into dependency order.
	for l, r := 1, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return append(path, g.steps[cycleStart].ID)
}

// roots returns the indices of steps with no dependencies, in declaration order.
func (g *graph) roots() []int {
	var out []int
	for i, d := range g.indegree {
		if d == 0 {
			out = append(out, i)
		}
	}
	return out
}

// transitiveDependents returns every step reachable from idx through
// dependency edges, in breadth-first order.
func (g *graph) transitiveDependents(idx int) []int {
	seen := make([]bool, len(g.steps))
	queue := append([]int(nil), g.dependents[idx]...)
	var out []int
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		queue = append(queue, g.dependents[u]...)
	}
	return out
}
