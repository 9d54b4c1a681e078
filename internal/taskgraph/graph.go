// Package taskgraph runs named tasks in dependency order. A task starts once
// every dependency has succeeded; when a task fails, everything downstream of
// it is skipped.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Task is one node of the graph.
type Task struct {
	Name string
	Deps []string
	Run  func(ctx context.Context) error
}

// Graph is a validated, acyclic set of tasks.
type Graph struct {
	tasks      map[string]Task
	order      []string
	dependents map[string][]string
}

var ErrCycle = errors.New("task graph has a cycle")

func New(tasks ...Task) (*Graph, error) {
	g := &Graph{tasks: make(map[string]Task, len(tasks)), dependents: map[string][]string{}}
	for _, t := range tasks {
		if t.Name == "" {
			return nil, errors.New("task with empty name")
		}
		if t.Run == nil {
			return nil, fmt.Errorf("task %s has no run function", t.Name)
		}
		if _, dup := g.tasks[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task %s", t.Name)
		}
		g.tasks[t.Name] = t
	}
	for _, t := range tasks {
		for _, d := range t.Deps {
			if _, ok := g.tasks[d]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.Name, d)
			}
			if d == t.Name {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, t.Name)
			}
			g.dependents[d] = append(g.dependents[d], t.Name)
		}
	}
	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoOrder is Kahn's algorithm with name order among ready tasks.
func (g *Graph) topoOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.tasks))
	for name, t := range g.tasks {
		indeg[name] = len(t.Deps)
	}
	var ready []string
	for name, n := range indeg {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	out := make([]string, 0, len(g.tasks))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		var next []string
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				next = append(next, m)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}
	if len(out) != len(g.tasks) {
		var stuck []string
		for name, n := range indeg {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return out, nil
}

// Order is a deterministic topological order of the task names.
func (g *Graph) Order() []string { return append([]string(nil), g.order...) }

// downstream returns every task that transitively depends on name.
func (g *Graph) downstream(name string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.dependents[n] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
