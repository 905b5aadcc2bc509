package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mzli/pillarflow/internal/graph"
)

// navTimer is one armed auto-navigation. gen ties the timer callback to the
// schedule call that armed it: Stop cannot cancel a callback that has
// already fired and is waiting on the workflow lock, so the callback checks
// its generation under the lock and aborts when superseded.
type navTimer struct {
	timer *time.Timer
	gen   uint64
}

// scheduleNavigation arms the delayed auto-navigation for a workflow,
// superseding any navigation already pending. Caller holds the workflow lock.
func (e *Engine) scheduleNavigation(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.pending[workflowID]; p != nil {
		p.timer.Stop()
	}
	e.navSeq[workflowID]++
	gen := e.navSeq[workflowID]
	e.pending[workflowID] = &navTimer{
		gen: gen,
		timer: time.AfterFunc(e.advanceDelay, func() {
			e.runNavigation(workflowID, gen)
		}),
	}
}

// cancelPendingNavigation stops a scheduled auto-navigation, if any. Rapid
// task churn must not leave a stale navigation behind.
func (e *Engine) cancelPendingNavigation(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.pending[workflowID]; p != nil {
		p.timer.Stop()
		delete(e.pending, workflowID)
	}
}

// runNavigation fires after the advance delay: it looks up the first ready
// task in workflow order and triggers the navigator. A callback whose
// generation no longer matches the pending entry was superseded while it
// waited for the lock and must not navigate (nor discard the newer handle).
// Navigator failures are logged and swallowed; the completed task is already
// correctly recorded.
func (e *Engine) runNavigation(workflowID string, gen uint64) {
	l := e.lockFor(workflowID)
	l.Lock()
	defer l.Unlock()

	e.mu.Lock()
	p := e.pending[workflowID]
	if p == nil || p.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.pending, workflowID)
	e.mu.Unlock()

	w := e.workflow(workflowID)
	if w == nil || e.navigator == nil {
		return
	}
	ready := graph.Ready(w)
	if len(ready) == 0 {
		return
	}
	next := ready[0]
	if err := e.navigator.Navigate(context.Background(), &next, w); err != nil {
		slog.Warn("auto-navigation failed", "workflow", workflowID, "task", next.ID, "err", err)
	}
}
