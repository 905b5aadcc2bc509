// Package graph resolves task dependency graphs for daily workflows:
// readiness classification, validation, and topological execution order.
package graph

import (
	"fmt"

	"github.com/mzli/pillarflow/pkg/models"
)

// Node statuses. Completed and skipped mirror the task's own status; ready
// means every dependency is terminal; blocked otherwise.
const (
	NodeReady     = "ready"
	NodeBlocked   = "blocked"
	NodeCompleted = "completed"
	NodeSkipped   = "skipped"
)

// Node is one task's view of the graph: declared dependencies, the inverse
// edge set, and the computed status.
type Node struct {
	Dependencies []string
	Dependents   []string
	Status       string
}

// Graph is a derived view over a workflow's tasks. It is a pure function of
// task statuses plus declared edges; rebuild rather than patch when a fresh
// view is needed.
type Graph struct {
	nodes map[string]*Node
	order []string // task ids in workflow order, for deterministic iteration
}

// Build computes the dependency graph for the workflow: per-task status and
// the dependents inverse of the declared dependency edges.
func Build(w *models.DailyWorkflow) *Graph {
	g := &Graph{nodes: make(map[string]*Node, len(w.Tasks)), order: make([]string, 0, len(w.Tasks))}
	for i := range w.Tasks {
		t := &w.Tasks[i]
		g.order = append(g.order, t.ID)
		g.nodes[t.ID] = &Node{
			Dependencies: append([]string(nil), t.Dependencies...),
			Status:       nodeStatus(t, w),
		}
	}
	for i := range w.Tasks {
		t := &w.Tasks[i]
		for _, dep := range t.Dependencies {
			if n, ok := g.nodes[dep]; ok {
				n.Dependents = append(n.Dependents, t.ID)
			}
		}
	}
	return g
}

func nodeStatus(t *models.Task, w *models.DailyWorkflow) string {
	switch t.Status {
	case models.TaskCompleted:
		return NodeCompleted
	case models.TaskSkipped:
		return NodeSkipped
	}
	for _, dep := range t.Dependencies {
		d := w.Task(dep)
		if d == nil || !d.Terminal() {
			return NodeBlocked
		}
	}
	return NodeReady
}

// Node returns the graph node for a task id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// ValidationResult is the outcome of Validate. Errors (cycles, missing
// edges) make the workflow invalid; warnings (orphans) never do.
type ValidationResult struct {
	IsValid      bool          `json:"is_valid"`
	Errors       []string      `json:"errors,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	ReadyTasks   []models.Task `json:"ready_tasks,omitempty"`
	BlockedTasks []models.Task `json:"blocked_tasks,omitempty"`
}

// Validate runs cycle detection, missing-dependency detection, and orphan
// detection over the workflow's declared edges. A task id on any cycle is
// reported; a dependency edge to an id absent from the workflow is reported
// as "A -> Z". Orphans (no dependencies, no dependents) are warnings only.
func Validate(w *models.DailyWorkflow) ValidationResult {
	res := ValidationResult{IsValid: true}

	if ids := cycleTaskIDs(w); len(ids) > 0 {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf("circular dependency detected involving tasks: %v", ids))
	}

	known := make(map[string]bool, len(w.Tasks))
	for i := range w.Tasks {
		known[w.Tasks[i].ID] = true
	}
	for i := range w.Tasks {
		t := &w.Tasks[i]
		for _, dep := range t.Dependencies {
			if !known[dep] {
				res.IsValid = false
				res.Errors = append(res.Errors, fmt.Sprintf("missing dependency: %s -> %s", t.ID, dep))
			}
		}
	}

	g := Build(w)
	for _, id := range g.order {
		n := g.nodes[id]
		if len(n.Dependencies) == 0 && len(n.Dependents) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("task %s has no dependencies or dependents", id))
		}
	}

	res.ReadyTasks = Ready(w)
	res.BlockedTasks = Blocked(w)
	return res
}

// cycleTaskIDs returns every task id on a detected cycle, in workflow order,
// using depth-first traversal with a visiting set. A task depending on
// itself is a one-node cycle.
func cycleTaskIDs(w *models.DailyWorkflow) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // visiting
		black = 2 // done
	)
	color := make(map[string]int, len(w.Tasks))
	onCycle := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		t := w.Task(id)
		if t != nil {
			for _, dep := range t.Dependencies {
				if w.Task(dep) == nil {
					continue // reported separately as a missing edge
				}
				switch color[dep] {
				case white:
					visit(dep)
				case gray:
					// Back edge: everything from dep to the top of the stack is on the cycle.
					for i := len(stack) - 1; i >= 0; i-- {
						onCycle[stack[i]] = true
						if stack[i] == dep {
							break
						}
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for i := range w.Tasks {
		if color[w.Tasks[i].ID] == white {
			visit(w.Tasks[i].ID)
		}
	}

	var ids []string
	for i := range w.Tasks {
		if onCycle[w.Tasks[i].ID] {
			ids = append(ids, w.Tasks[i].ID)
		}
	}
	return ids
}

// Ready returns tasks whose graph status is ready and whose own status is
// still pending, in workflow order.
func Ready(w *models.DailyWorkflow) []models.Task {
	g := Build(w)
	var out []models.Task
	for i := range w.Tasks {
		t := &w.Tasks[i]
		if t.Status == models.TaskPending && g.nodes[t.ID].Status == NodeReady {
			out = append(out, *t)
		}
	}
	return out
}

// Blocked returns tasks whose graph status is blocked, in workflow order.
func Blocked(w *models.DailyWorkflow) []models.Task {
	g := Build(w)
	var out []models.Task
	for i := range w.Tasks {
		t := &w.Tasks[i]
		if g.nodes[t.ID].Status == NodeBlocked {
			out = append(out, *t)
		}
	}
	return out
}

// OptimalOrder returns a topological ordering of the workflow's tasks via
// depth-first post-order traversal: all dependencies are emitted before the
// task itself. Ties among independent subtrees follow the task slice's
// original order, so the sort is deterministic for a fixed input. A cycle is
// a fatal error; no partial order is returned.
func OptimalOrder(w *models.DailyWorkflow) ([]models.Task, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Tasks))
	ordered := make([]models.Task, 0, len(w.Tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return models.NewCircularDependency([]string{id})
		}
		color[id] = gray
		t := w.Task(id)
		if t == nil {
			// Edge to a task outside the workflow; Validate reports these.
			color[id] = black
			return nil
		}
		for _, dep := range t.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		ordered = append(ordered, *t)
		return nil
	}

	for i := range w.Tasks {
		if err := visit(w.Tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// DependencyChain returns all transitive dependencies of a task,
// deduplicated, nearest first.
func (g *Graph) DependencyChain(taskID string) []string {
	seen := make(map[string]bool)
	var chain []string
	var walk func(id string)
	walk = func(id string) {
		n := g.nodes[id]
		if n == nil {
			return
		}
		for _, dep := range n.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			chain = append(chain, dep)
			walk(dep)
		}
	}
	walk(taskID)
	return chain
}

// CompletionImpact returns the ids of tasks that become ready as an
// immediate consequence of marking taskID completed or skipped: direct
// dependents whose every other dependency is already terminal. Ids are
// emitted in workflow order, like every other query in this package.
func (g *Graph) CompletionImpact(taskID string) []string {
	n := g.nodes[taskID]
	if n == nil {
		return nil
	}
	var unlocked []string
	for _, dep := range n.Dependents {
		d := g.nodes[dep]
		if d == nil || d.Status != NodeBlocked {
			continue
		}
		ready := true
		for _, req := range d.Dependencies {
			if req == taskID {
				continue
			}
			r := g.nodes[req]
			if r == nil || (r.Status != NodeCompleted && r.Status != NodeSkipped) {
				ready = false
				break
			}
		}
		if ready {
			unlocked = append(unlocked, dep)
		}
	}
	return unlocked
}

// UpdateStatus records a new status for taskID in the live graph and
// propagates readiness to direct dependents only. Transitive dependents are
// resolved lazily on the next Build; a small staleness window is the price
// of not recomputing the whole graph on every change.
func (g *Graph) UpdateStatus(taskID, status string) {
	n := g.nodes[taskID]
	if n == nil {
		return
	}
	n.Status = status
	if status != NodeCompleted && status != NodeSkipped {
		return
	}
	for _, dep := range n.Dependents {
		d := g.nodes[dep]
		if d == nil || d.Status != NodeBlocked {
			continue
		}
		allDone := true
		for _, req := range d.Dependencies {
			r := g.nodes[req]
			if r == nil || (r.Status != NodeCompleted && r.Status != NodeSkipped) {
				allDone = false
				break
			}
		}
		if allDone {
			d.Status = NodeReady
		}
	}
}
