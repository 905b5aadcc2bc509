package verify

import (
	"fmt"
	"time"

	"github.com/mzli/pillarflow/pkg/models"
)

// Confidence thresholds. Navigation sets a higher bar because its signals
// are weaker evidence of real completion.
const (
	genericThreshold    = 0.5
	navigationThreshold = 0.6
)

// GenericRule is the fallback verifier. Confidence accumulates from
// independent, additive signals, each capped so no single signal alone
// satisfies the threshold.
func GenericRule(task *models.Task, _ *Context) models.VerificationResult {
	var res models.VerificationResult

	if task.CompletedAt != nil {
		res.Confidence += 0.5
	} else {
		res.Warnings = append(res.Warnings, "task has no completion timestamp")
	}
	if task.StartedAt != nil {
		res.Confidence += 0.3
	} else {
		res.Warnings = append(res.Warnings, "task has no start timestamp")
	}
	if task.StartedAt != nil && task.CompletedAt != nil {
		elapsed := task.CompletedAt.Sub(*task.StartedAt)
		if elapsed > 0 {
			res.Confidence += 0.2
			res.Evidence = append(res.Evidence, fmt.Sprintf("task took %.0f minutes", elapsed.Minutes()))
		}
	}

	res.IsCompleted = res.Confidence >= genericThreshold
	return res
}

// NavigationRule verifies navigation-style tasks. Up to three independent
// location/activity signals contribute fixed weights, plus an elapsed-time
// signal when both timestamps are present; the total is capped at 1.0.
func NavigationRule(task *models.Task, ctx *Context) models.VerificationResult {
	var res models.VerificationResult

	if ctx != nil && ctx.Platform != nil && ctx.Platform.CurrentLocation == task.ActionTarget && task.ActionTarget != "" {
		res.Confidence += 0.4
		res.Evidence = append(res.Evidence, "user is at the task's destination: "+task.ActionTarget)
	} else {
		res.Warnings = append(res.Warnings, "current location does not match the task destination")
		res.Suggestions = append(res.Suggestions, "navigate to "+task.ActionTarget)
	}

	if task.StartedAt != nil && ctx != nil && anyAfter(ctx.UserActivity, *task.StartedAt) {
		res.Confidence += 0.3
		res.Evidence = append(res.Evidence, "user activity recorded after the task started")
	} else {
		res.Warnings = append(res.Warnings, "no user activity recorded after the task started")
	}

	if task.StartedAt != nil && ctx != nil && ctx.Platform != nil &&
		ctx.Platform.LastActivity != nil && ctx.Platform.LastActivity.After(*task.StartedAt) {
		res.Confidence += 0.3
		res.Evidence = append(res.Evidence, "platform last activity is after the task started")
	}

	if task.StartedAt != nil && task.CompletedAt != nil {
		elapsed := task.CompletedAt.Sub(*task.StartedAt).Minutes()
		if task.EstimatedTime > 0 && elapsed >= 0.5*float64(task.EstimatedTime) {
			res.Confidence += 0.2
			res.Evidence = append(res.Evidence, fmt.Sprintf("spent %.0f of %d estimated minutes", elapsed, task.EstimatedTime))
		} else {
			res.Warnings = append(res.Warnings, "completed too quickly compared to the estimate")
		}
	}

	if res.Confidence > 1 {
		res.Confidence = 1
	}
	res.IsCompleted = res.Confidence >= navigationThreshold
	return res
}

func anyAfter(times []time.Time, after time.Time) bool {
	for _, t := range times {
		if t.After(after) {
			return true
		}
	}
	return false
}
