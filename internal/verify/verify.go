// Package verify judges task completion claims with confidence-weighted
// heuristics. Rules are keyed by (pillar, action type) and pluggable at
// runtime; a generic fallback covers everything else.
package verify

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mzli/pillarflow/pkg/models"
)

// Context carries execution signals available at verification time. Any
// field may be absent; fewer signals mean lower confidence, not an error.
type Context struct {
	UserID       string
	Timestamp    time.Time
	Platform     *PlatformData
	UserActivity []time.Time // recent activity timestamps
}

// PlatformData is platform-reported state about the user's session.
type PlatformData struct {
	CurrentLocation string
	LastActivity    *time.Time
}

// Rule inspects a task and optional context and produces a verdict.
type Rule func(task *models.Task, ctx *Context) models.VerificationResult

type ruleKey struct {
	pillar string
	action string
}

// Verifier holds the rule registry and a bounded per-task verification
// history used for audit and statistics.
type Verifier struct {
	mu           sync.Mutex
	rules        map[ruleKey]Rule
	history      map[string][]models.VerificationResult
	historyLimit int
}

// New returns a Verifier with an empty registry. Unmatched tasks fall back
// to the navigation rule for action type "navigate" and the generic rule
// otherwise.
func New() *Verifier {
	return &Verifier{
		rules:        make(map[ruleKey]Rule),
		history:      make(map[string][]models.VerificationResult),
		historyLimit: models.DefaultVerifyHistoryLimit,
	}
}

// Register installs a rule for (pillarID, actionType), replacing any
// existing rule for that key. New pillars need no core changes.
func (v *Verifier) Register(pillarID, actionType string, rule Rule) {
	v.mu.Lock()
	v.rules[ruleKey{pillarID, actionType}] = rule
	v.mu.Unlock()
}

// Unregister removes the rule for (pillarID, actionType), if present.
func (v *Verifier) Unregister(pillarID, actionType string) {
	v.mu.Lock()
	delete(v.rules, ruleKey{pillarID, actionType})
	v.mu.Unlock()
}

// Verify runs the matching rule (or a fallback) over the task. It never
// fails: an internal error or panic is folded into a zero-confidence result
// with the message in warnings. Every result is appended to the task's
// bounded history.
func (v *Verifier) Verify(task *models.Task, ctx *Context) models.VerificationResult {
	res := v.run(task, ctx)
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	v.record(task.ID, res)
	return res
}

func (v *Verifier) run(task *models.Task, ctx *Context) (res models.VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = models.VerificationResult{
				IsCompleted: false,
				Confidence:  0,
				Warnings:    []string{fmt.Sprintf("verification failed: %v", r)},
			}
		}
	}()

	v.mu.Lock()
	rule := v.rules[ruleKey{task.PillarID, task.ActionType}]
	v.mu.Unlock()

	if rule == nil {
		if task.ActionType == models.ActionNavigate {
			rule = NavigationRule
		} else {
			rule = GenericRule
		}
	}
	return rule(task, ctx)
}

func (v *Verifier) record(taskID string, res models.VerificationResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h := append(v.history[taskID], res)
	if len(h) > v.historyLimit {
		h = h[len(h)-v.historyLimit:]
	}
	v.history[taskID] = h
}

// History returns the retained verification results for a task, oldest
// first.
func (v *Verifier) History(taskID string) []models.VerificationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.VerificationResult(nil), v.history[taskID]...)
}

// Stats derives aggregate statistics from the retained history across all
// tasks.
func (v *Verifier) Stats() models.VerificationStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	var stats models.VerificationStats
	var confidenceSum float64
	var completed int
	warnings := make(map[string]int)
	for _, results := range v.history {
		for _, r := range results {
			stats.TotalVerifications++
			confidenceSum += r.Confidence
			if r.IsCompleted {
				completed++
			}
			for _, w := range r.Warnings {
				warnings[w]++
			}
		}
	}
	if stats.TotalVerifications > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalVerifications)
		stats.CompletionRate = float64(completed) / float64(stats.TotalVerifications)
	}
	for w, c := range warnings {
		stats.FrequentWarnings = append(stats.FrequentWarnings, models.WarningCount{Warning: w, Count: c})
	}
	sort.Slice(stats.FrequentWarnings, func(i, j int) bool {
		a, b := stats.FrequentWarnings[i], stats.FrequentWarnings[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Warning < b.Warning
	})
	return stats
}
