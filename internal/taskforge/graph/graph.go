// Package graph validates task dependencies and computes the execution order.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task id %q", e.ID)
}

type MissingDependencyError struct {
	TaskID string
	DepID  string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DepID)
}

// CycleError lists every task that could not be placed in the order.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return "dependency cycle among tasks: " + strings.Join(e.Remaining, ", ")
}

type Graph struct {
	ByID  map[string]spec.Task
	Order []string
}

// Tasks returns the tasks in execution order.
func (g *Graph) Tasks() []spec.Task {
	out := make([]spec.Task, 0, len(g.Order))
	for _, id := range g.Order {
		out = append(out, g.ByID[id])
	}
	return out
}

// Build orders tasks with a priority-biased Kahn sort: among ready tasks the
// highest priority goes first, ties broken by ascending id.
func Build(tasks []spec.Task) (*Graph, error) {
	byID := make(map[string]spec.Task, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return nil, &DuplicateTaskError{ID: t.ID}
		}
		byID[t.ID] = t
	}

	indeg := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		seen := map[string]bool{}
		for _, d := range t.Deps {
			if _, ok := byID[d]; !ok {
				return nil, &MissingDependencyError{TaskID: t.ID, DepID: d}
			}
			if seen[d] {
				continue
			}
			seen[d] = true
			indeg[t.ID]++
			dependents[d] = append(dependents[d], t.ID)
		}
	}

	less := func(a, b string) bool {
		pa, pb := byID[a].Priority, byID[b].Priority
		if pa != pb {
			return pa > pb
		}
		return a < b
	}

	var ready []string
	for _, t := range tasks {
		if indeg[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	order := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		added := false
		for _, n := range dependents[id] {
			indeg[n]--
			if indeg[n] == 0 {
				ready = append(ready, n)
				added = true
			}
		}
		if added {
			sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		}
	}

	if len(order) != len(tasks) {
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		var remaining []string
		for _, t := range tasks {
			if !placed[t.ID] {
				remaining = append(remaining, t.ID)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Remaining: remaining}
	}
	return &Graph{ByID: byID, Order: order}, nil
}

// Single wraps one task without validating its dependencies.
func Single(t spec.Task) *Graph {
	return &Graph{ByID: map[string]spec.Task{t.ID: t}, Order: []string{t.ID}}
}
