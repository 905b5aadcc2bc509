// Package engine orchestrates daily workflows: generation, task lifecycle
// transitions, progress and navigation state, and persistence. One Engine
// instance coordinates all workflows for a process.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mzli/pillarflow/internal/graph"
	"github.com/mzli/pillarflow/internal/source"
	"github.com/mzli/pillarflow/internal/store"
	"github.com/mzli/pillarflow/internal/verify"
	"github.com/mzli/pillarflow/pkg/models"
)

// DefaultAdvanceDelay is how long the engine waits after a completion
// before triggering auto-navigation, so callers can settle first.
const DefaultAdvanceDelay = 1 * time.Second

// Navigator performs the side effect implied by a task's action type, e.g.
// moving the user to a destination. Failures are logged and swallowed; they
// never propagate into workflow state.
type Navigator interface {
	Navigate(ctx context.Context, task *models.Task, w *models.DailyWorkflow) error
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(ctx context.Context, task *models.Task, w *models.DailyWorkflow) error

func (f NavigatorFunc) Navigate(ctx context.Context, task *models.Task, w *models.DailyWorkflow) error {
	return f(ctx, task, w)
}

// Options configures a new Engine. Source is required; everything else has
// a working default (nil Store means in-memory only).
type Options struct {
	Source       source.Provider
	Store        store.Store
	Verifier     *verify.Verifier
	Navigator    Navigator
	AutoAdvance  bool
	AdvanceDelay time.Duration
}

// Engine owns the collection of daily workflows. Every entry point, reads
// included, takes a per-workflow lock, and reads hand out deep copies, so
// concurrent callers on the same workflow id cannot double-count progress
// or observe a task mid-mutation.
type Engine struct {
	src          source.Provider
	store        store.Store
	verifier     *verify.Verifier
	navigator    Navigator
	autoAdvance  bool
	advanceDelay time.Duration

	mu        sync.Mutex
	workflows map[string]*models.DailyWorkflow
	graphs    map[string]*graph.Graph
	locks     map[string]*sync.Mutex
	pending   map[string]*navTimer // scheduled auto-navigations, cancelable
	navSeq    map[string]uint64    // per-workflow navigation generation
}

// New constructs an Engine and restores persisted workflows. Unreadable
// records are logged and skipped; restore never fails the constructor.
func New(opts Options) *Engine {
	v := opts.Verifier
	if v == nil {
		v = verify.New()
	}
	delay := opts.AdvanceDelay
	if delay <= 0 {
		delay = DefaultAdvanceDelay
	}
	e := &Engine{
		src:          opts.Source,
		store:        opts.Store,
		verifier:     v,
		navigator:    opts.Navigator,
		autoAdvance:  opts.AutoAdvance,
		advanceDelay: delay,
		workflows:    make(map[string]*models.DailyWorkflow),
		graphs:       make(map[string]*graph.Graph),
		locks:        make(map[string]*sync.Mutex),
		pending:      make(map[string]*navTimer),
		navSeq:       make(map[string]uint64),
	}
	if e.store != nil {
		restored, errs := e.store.LoadWorkflows(context.Background())
		for _, err := range errs {
			slog.Warn("workflow restore skipped a record", "err", err)
		}
		for i := range restored {
			w := restored[i]
			e.workflows[w.ID] = &w
			e.graphs[w.ID] = graph.Build(&w)
		}
		if len(restored) > 0 {
			slog.Info("restored workflows", "count", len(restored))
		}
	}
	return e
}

// Verifier exposes the completion verifier (rule registration, stats).
func (e *Engine) Verifier() *verify.Verifier { return e.verifier }

// lockFor returns the mutex for a workflow id, creating it on first use.
func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) workflow(id string) *models.DailyWorkflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workflows[id]
}

// GenerateWorkflow is an idempotent lookup-or-create for (userID, date).
// On create it fetches a task set from the source, validates the dependency
// graph, and orders tasks topologically. An invalid dependency set degrades
// to a flat, dependency-free list rather than failing generation: a usable
// plan with no ordering guarantees beats no plan.
func (e *Engine) GenerateWorkflow(ctx context.Context, userID, date string, genCtx map[string]string) (*models.DailyWorkflow, error) {
	id := models.WorkflowID(userID, date)
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if w := e.workflow(id); w != nil {
		return w.Clone(), nil
	}

	tasks, err := e.src.Tasks(ctx, userID, date, genCtx)
	if err != nil {
		return nil, models.NewGenerationFailed("task source: " + err.Error())
	}
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = models.TaskPending
		}
	}

	w := &models.DailyWorkflow{
		ID:             id,
		UserID:         userID,
		Date:           date,
		Tasks:          tasks,
		WorkflowStatus: models.WorkflowNotStarted,
	}

	if res := graph.Validate(w); !res.IsValid {
		slog.Warn("generated task set has invalid dependencies, degrading to flat list",
			"workflow", id, "errors", res.Errors)
		for i := range w.Tasks {
			w.Tasks[i].Dependencies = nil
		}
	} else {
		ordered, err := graph.OptimalOrder(w)
		if err != nil {
			// Validate passed, so this is defense in depth only.
			return nil, err
		}
		w.Tasks = ordered
	}

	w.TotalTasks = len(w.Tasks)
	for i := range w.Tasks {
		w.TotalEstimatedTime += w.Tasks[i].EstimatedTime
	}

	e.mu.Lock()
	e.workflows[id] = w
	e.graphs[id] = graph.Build(w)
	e.mu.Unlock()

	e.persist(ctx, w)
	slog.Info("generated workflow", "workflow", id, "tasks", w.TotalTasks)
	return w.Clone(), nil
}

// StartWorkflow moves the workflow to in_progress and starts its first task.
func (e *Engine) StartWorkflow(ctx context.Context, id string) (*models.DailyWorkflow, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(id)
	if w == nil {
		return nil, models.NewWorkflowNotFound(id)
	}
	if w.WorkflowStatus != models.WorkflowNotStarted {
		return w.Clone(), nil
	}

	now := time.Now().UTC()
	w.WorkflowStatus = models.WorkflowInProgress
	w.StartedAt = &now
	if len(w.Tasks) > 0 {
		first := &w.Tasks[0]
		if first.Status == models.TaskPending {
			first.Status = models.TaskInProgress
			first.StartedAt = &now
		}
	}
	e.rebuildGraph(w)
	e.persist(ctx, w)
	return w.Clone(), nil
}

// CompleteTask marks a task completed, records the verifier's advisory
// verdict, updates counters and the dependency graph, and schedules
// auto-navigation to the next ready task when enabled. Verification never
// blocks completion; the task set is self-reported.
func (e *Engine) CompleteTask(ctx context.Context, workflowID, taskID string, vctx *verify.Context) (*models.WorkflowProgress, models.VerificationResult, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	var vres models.VerificationResult
	w := e.workflow(workflowID)
	if w == nil {
		return nil, vres, models.NewWorkflowNotFound(workflowID)
	}
	t := w.Task(taskID)
	if t == nil {
		return nil, vres, models.NewTaskNotFound(workflowID, taskID)
	}

	e.cancelPendingNavigation(workflowID)

	if t.Terminal() {
		p := e.progressLocked(w)
		return &p, e.verifier.Verify(t, vctx), nil
	}

	now := time.Now().UTC()
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.CompletedAt = &now
	t.Status = models.TaskCompleted

	vres = e.verifier.Verify(t, vctx)
	slog.Info("task verification",
		"workflow", workflowID, "task", taskID,
		"confidence", vres.Confidence, "verified", vres.IsCompleted)

	w.ActualTimeSpent += int(now.Sub(*t.StartedAt).Minutes())
	e.markTerminal(ctx, w, t.ID, graph.NodeCompleted, now)

	if e.autoAdvance && w.WorkflowStatus != models.WorkflowCompleted {
		e.scheduleNavigation(workflowID)
	}

	p := e.progressLocked(w)
	return &p, vres, nil
}

// SkipTask marks a task skipped. Skips count toward completedTasks: a
// skipped task is a terminal outcome for progress accounting.
func (e *Engine) SkipTask(ctx context.Context, workflowID, taskID string) (*models.WorkflowProgress, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(workflowID)
	if w == nil {
		return nil, models.NewWorkflowNotFound(workflowID)
	}
	t := w.Task(taskID)
	if t == nil {
		return nil, models.NewTaskNotFound(workflowID, taskID)
	}

	e.cancelPendingNavigation(workflowID)

	if t.Terminal() {
		p := e.progressLocked(w)
		return &p, nil
	}

	now := time.Now().UTC()
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.Status = models.TaskSkipped
	e.markTerminal(ctx, w, t.ID, graph.NodeSkipped, now)

	p := e.progressLocked(w)
	return &p, nil
}

// markTerminal updates counters, the live graph, and workflow status after
// a task reaches a terminal state. Caller holds the workflow lock.
func (e *Engine) markTerminal(ctx context.Context, w *models.DailyWorkflow, taskID, nodeStatus string, now time.Time) {
	e.mu.Lock()
	if g := e.graphs[w.ID]; g != nil {
		g.UpdateStatus(taskID, nodeStatus)
	}
	e.mu.Unlock()

	w.CompletedTasks++
	if w.WorkflowStatus == models.WorkflowNotStarted {
		w.WorkflowStatus = models.WorkflowInProgress
		if w.StartedAt == nil {
			w.StartedAt = &now
		}
	}
	if w.CompletedTasks >= w.TotalTasks {
		w.CompletedTasks = w.TotalTasks
		w.WorkflowStatus = models.WorkflowCompleted
		w.CompletedAt = &now
		slog.Info("workflow completed", "workflow", w.ID, "time_spent_min", w.ActualTimeSpent)
	}
	e.persist(ctx, w)
}

// Progress returns the workflow's progress summary.
func (e *Engine) Progress(workflowID string) (*models.WorkflowProgress, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(workflowID)
	if w == nil {
		return nil, models.NewWorkflowNotFound(workflowID)
	}
	p := e.progressLocked(w)
	return &p, nil
}

func (e *Engine) progressLocked(w *models.DailyWorkflow) models.WorkflowProgress {
	p := models.WorkflowProgress{
		WorkflowID:      w.ID,
		CompletedTasks:  w.CompletedTasks,
		TotalTasks:      w.TotalTasks,
		ActualTimeSpent: w.ActualTimeSpent,
	}
	if w.TotalTasks > 0 {
		p.CompletionPercentage = 100 * float64(w.CompletedTasks) / float64(w.TotalTasks)
	}
	if w.CurrentTaskIndex >= 0 && w.CurrentTaskIndex < len(w.Tasks) {
		cur := w.Tasks[w.CurrentTaskIndex].Clone()
		p.CurrentTask = &cur
	}
	if w.CurrentTaskIndex+1 < len(w.Tasks) {
		next := w.Tasks[w.CurrentTaskIndex+1].Clone()
		p.NextTask = &next
	}
	for i := w.CurrentTaskIndex; i >= 0 && i < len(w.Tasks); i++ {
		if !w.Tasks[i].Terminal() {
			p.EstimatedTimeRemaining += w.Tasks[i].EstimatedTime
		}
	}
	return p
}

// NavigationState derives previous/current/next purely from the cursor.
func (e *Engine) NavigationState(workflowID string) (*models.NavigationState, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(workflowID)
	if w == nil {
		return nil, models.NewWorkflowNotFound(workflowID)
	}
	ns := &models.NavigationState{
		CanGoBack:    w.CurrentTaskIndex > 0,
		CanGoForward: w.CurrentTaskIndex < len(w.Tasks)-1,
	}
	if w.CurrentTaskIndex >= 0 && w.CurrentTaskIndex < len(w.Tasks) {
		cur := w.Tasks[w.CurrentTaskIndex].Clone()
		ns.CurrentTask = &cur
	}
	if w.CurrentTaskIndex > 0 {
		prev := w.Tasks[w.CurrentTaskIndex-1].Clone()
		ns.PreviousTask = &prev
	}
	if w.CurrentTaskIndex+1 < len(w.Tasks) {
		next := w.Tasks[w.CurrentTaskIndex+1].Clone()
		ns.NextTask = &next
	}
	return ns, nil
}

// AdvanceCursor moves the cursor forward by one and starts the newly
// current task if it was pending. Returns nil at the end of the sequence
// without error.
func (e *Engine) AdvanceCursor(ctx context.Context, workflowID string) (*models.Task, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(workflowID)
	if w == nil {
		return nil, models.NewWorkflowNotFound(workflowID)
	}
	if w.CurrentTaskIndex >= len(w.Tasks)-1 {
		return nil, nil
	}
	w.CurrentTaskIndex++
	t := &w.Tasks[w.CurrentTaskIndex]
	if t.Status == models.TaskPending {
		now := time.Now().UTC()
		t.Status = models.TaskInProgress
		t.StartedAt = &now
		e.rebuildGraph(w)
	}
	e.persist(ctx, w)
	out := t.Clone()
	return &out, nil
}

// ClearCompleted removes every completed workflow from memory and the
// persistence layer. Returns the number removed.
func (e *Engine) ClearCompleted(ctx context.Context) int {
	e.mu.Lock()
	var ids []string
	for id, w := range e.workflows {
		if w.WorkflowStatus == models.WorkflowCompleted {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(e.workflows, id)
		delete(e.graphs, id)
		if p := e.pending[id]; p != nil {
			p.timer.Stop()
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		if e.store != nil {
			if err := e.store.DeleteWorkflow(ctx, id); err != nil {
				slog.Warn("delete workflow failed", "workflow", id, "err", err)
			}
		}
	}
	if len(ids) > 0 {
		slog.Info("cleared completed workflows", "count", len(ids))
	}
	return len(ids)
}

// Workflow returns a copy of the workflow with the given id. Reads take the
// same per-workflow lock as the mutating entry points, and the copy keeps
// callers (JSON encoding included) off the live task slice.
func (e *Engine) Workflow(id string) (*models.DailyWorkflow, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(id)
	if w == nil {
		return nil, models.NewWorkflowNotFound(id)
	}
	return w.Clone(), nil
}

// Workflows returns copies of all known workflows. Each workflow's lock is
// taken in turn; the snapshot is per-workflow consistent, not global.
func (e *Engine) Workflows() []models.DailyWorkflow {
	e.mu.Lock()
	ids := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	out := make([]models.DailyWorkflow, 0, len(ids))
	for _, id := range ids {
		l := e.lockFor(id)
		l.Lock()
		if w := e.workflow(id); w != nil {
			out = append(out, *w.Clone())
		}
		l.Unlock()
	}
	return out
}

// Validate runs graph validation over a stored workflow.
func (e *Engine) Validate(workflowID string) (*graph.ValidationResult, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(workflowID)
	if w == nil {
		return nil, models.NewWorkflowNotFound(workflowID)
	}
	res := graph.Validate(w)
	return &res, nil
}

// DependencyChain returns the transitive dependencies of a task.
func (e *Engine) DependencyChain(workflowID, taskID string) ([]string, error) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	w := e.workflow(workflowID)
	if w == nil {
		return nil, models.NewWorkflowNotFound(workflowID)
	}
	if w.Task(taskID) == nil {
		return nil, models.NewTaskNotFound(workflowID, taskID)
	}
	return graph.Build(w).DependencyChain(taskID), nil
}

// rebuildGraph refreshes the live graph after task status changes outside
// UpdateStatus propagation.
func (e *Engine) rebuildGraph(w *models.DailyWorkflow) {
	e.mu.Lock()
	e.graphs[w.ID] = graph.Build(w)
	e.mu.Unlock()
}

// persist saves best-effort: a failed write is logged and the engine keeps
// operating in memory for the session.
func (e *Engine) persist(ctx context.Context, w *models.DailyWorkflow) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveWorkflow(ctx, w); err != nil {
		slog.Warn("persist workflow failed", "workflow", w.ID, "err", err)
	}
}
