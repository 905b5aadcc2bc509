package graph

import (
	"strings"
	"testing"

	"github.com/mzli/pillarflow/pkg/models"
)

func wf(tasks ...models.Task) *models.DailyWorkflow {
	return &models.DailyWorkflow{
		ID:         "u1:2026-08-31",
		UserID:     "u1",
		Date:       "2026-08-31",
		Tasks:      tasks,
		TotalTasks: len(tasks),
	}
}

func task(id string, deps ...string) models.Task {
	return models.Task{
		ID:           id,
		PillarID:     "plan",
		Title:        "task " + id,
		Status:       models.TaskPending,
		Priority:     models.PriorityMedium,
		Dependencies: deps,
	}
}

func TestBuild_dependentsAndStatus(t *testing.T) {
	t.Parallel()
	w := wf(task("A"), task("B", "A"), task("C", "A"))
	g := Build(w)

	a := g.Node("A")
	if a == nil {
		t.Fatal("node A missing")
	}
	if len(a.Dependents) != 2 || a.Dependents[0] != "B" || a.Dependents[1] != "C" {
		t.Fatalf("A dependents: got %v, want [B C]", a.Dependents)
	}
	if a.Status != NodeReady {
		t.Fatalf("A status: got %s, want ready", a.Status)
	}
	if g.Node("B").Status != NodeBlocked {
		t.Fatalf("B status: got %s, want blocked", g.Node("B").Status)
	}
}

func TestBuild_terminalStatusesMirrored(t *testing.T) {
	t.Parallel()
	a := task("A")
	a.Status = models.TaskCompleted
	b := task("B")
	b.Status = models.TaskSkipped
	g := Build(wf(a, b, task("C", "A", "B")))
	if g.Node("A").Status != NodeCompleted {
		t.Fatalf("A: got %s, want completed", g.Node("A").Status)
	}
	if g.Node("B").Status != NodeSkipped {
		t.Fatalf("B: got %s, want skipped", g.Node("B").Status)
	}
	if g.Node("C").Status != NodeReady {
		t.Fatalf("C: got %s, want ready (all deps terminal)", g.Node("C").Status)
	}
}

func TestReady_scenarioFanOut(t *testing.T) {
	t.Parallel()
	w := wf(task("A"), task("B", "A"), task("C", "A"))

	ready := Ready(w)
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("initial ready: got %v, want [A]", ids(ready))
	}

	w.Tasks[0].Status = models.TaskCompleted
	ready = Ready(w)
	if len(ready) != 2 || ready[0].ID != "B" || ready[1].ID != "C" {
		t.Fatalf("ready after A: got %v, want [B C]", ids(ready))
	}
}

func TestBlocked(t *testing.T) {
	t.Parallel()
	w := wf(task("A"), task("B", "A"))
	blocked := Blocked(w)
	if len(blocked) != 1 || blocked[0].ID != "B" {
		t.Fatalf("blocked: got %v, want [B]", ids(blocked))
	}
}

func TestValidate_cycle(t *testing.T) {
	t.Parallel()
	w := wf(task("A", "B"), task("B", "A"))
	res := Validate(w)
	if res.IsValid {
		t.Fatal("expected invalid workflow")
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected cycle error")
	}
	for _, id := range []string{"A", "B"} {
		found := false
		for _, e := range res.Errors {
			if strings.Contains(e, id) {
				found = true
			}
		}
		if !found {
			t.Fatalf("cycle error should mention %s: %v", id, res.Errors)
		}
	}
}

func TestValidate_selfDependency(t *testing.T) {
	t.Parallel()
	res := Validate(wf(task("A", "A")))
	if res.IsValid {
		t.Fatal("self-dependency must be an error")
	}
}

func TestValidate_missingDependency(t *testing.T) {
	t.Parallel()
	res := Validate(wf(task("A", "Z")))
	if res.IsValid {
		t.Fatal("expected invalid workflow")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "A -> Z") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing dependency error A -> Z, got %v", res.Errors)
	}
}

func TestValidate_orphanIsWarningOnly(t *testing.T) {
	t.Parallel()
	res := Validate(wf(task("A"), task("B", "A"), task("lone")))
	if !res.IsValid {
		t.Fatalf("orphans must not invalidate: %v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected orphan warning")
	}
}

func TestValidate_emptyWorkflow(t *testing.T) {
	t.Parallel()
	res := Validate(wf())
	if !res.IsValid {
		t.Fatal("empty workflow must be valid")
	}
	if len(res.ReadyTasks) != 0 || len(res.BlockedTasks) != 0 {
		t.Fatal("empty workflow must produce empty ready/blocked sets")
	}
}

func TestOptimalOrder_dependenciesFirst(t *testing.T) {
	t.Parallel()
	w := wf(task("C", "B"), task("B", "A"), task("A"), task("D"))
	ordered, err := OptimalOrder(w)
	if err != nil {
		t.Fatalf("OptimalOrder: %v", err)
	}
	if len(ordered) != 4 {
		t.Fatalf("expected permutation of all 4 tasks, got %v", ids(ordered))
	}
	idx := make(map[string]int)
	for i, tk := range ordered {
		idx[tk.ID] = i
	}
	for _, tk := range w.Tasks {
		for _, dep := range tk.Dependencies {
			if idx[dep] >= idx[tk.ID] {
				t.Fatalf("dependency %s must come before %s in %v", dep, tk.ID, ids(ordered))
			}
		}
	}
}

func TestOptimalOrder_deterministic(t *testing.T) {
	t.Parallel()
	w := wf(task("A"), task("B"), task("C"))
	first, err := OptimalOrder(w)
	if err != nil {
		t.Fatalf("OptimalOrder: %v", err)
	}
	if first[0].ID != "A" || first[1].ID != "B" || first[2].ID != "C" {
		t.Fatalf("independent tasks must keep input order, got %v", ids(first))
	}
}

func TestOptimalOrder_cycleIsFatal(t *testing.T) {
	t.Parallel()
	_, err := OptimalOrder(wf(task("A", "B"), task("B", "A")))
	if err == nil {
		t.Fatal("expected circular dependency error")
	}
	if !models.IsCode(err, models.CodeCircularDependency) {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
	}
}

func TestDependencyChain(t *testing.T) {
	t.Parallel()
	w := wf(task("A"), task("B", "A"), task("C", "B", "A"))
	g := Build(w)
	chain := g.DependencyChain("C")
	if len(chain) != 2 {
		t.Fatalf("chain for C: got %v, want 2 unique ids", chain)
	}
	seen := map[string]bool{}
	for _, id := range chain {
		if seen[id] {
			t.Fatalf("chain must be deduplicated: %v", chain)
		}
		seen[id] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Fatalf("chain for C must contain A and B: %v", chain)
	}
}

func TestCompletionImpact(t *testing.T) {
	t.Parallel()
	a := task("A")
	a.Status = models.TaskCompleted
	// Z precedes C in workflow order; the result must follow workflow
	// order, not lexical order.
	w := wf(a, task("B"), task("Z", "A", "B"), task("C", "B"))
	g := Build(w)

	unlocked := g.CompletionImpact("B")
	if len(unlocked) != 2 || unlocked[0] != "Z" || unlocked[1] != "C" {
		t.Fatalf("completing B should unlock [Z C] in workflow order, got %v", unlocked)
	}

	// A is already terminal; completing it again unlocks nothing new.
	if got := g.CompletionImpact("A"); len(got) != 0 {
		t.Fatalf("completing A should unlock nothing, got %v", got)
	}
}

func TestUpdateStatus_directDependentsOnly(t *testing.T) {
	t.Parallel()
	w := wf(task("A"), task("B", "A"), task("C", "B"))
	g := Build(w)

	g.UpdateStatus("A", NodeCompleted)
	if g.Node("B").Status != NodeReady {
		t.Fatalf("B should become ready, got %s", g.Node("B").Status)
	}
	// C is a dependent of a dependent; it stays blocked until the next build.
	if g.Node("C").Status != NodeBlocked {
		t.Fatalf("C should remain blocked, got %s", g.Node("C").Status)
	}
}

func ids(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].ID
	}
	return out
}
