// Package notify sends best-effort notifications when a day's workflow
// finishes. Failures are logged by callers and never affect workflow state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/mzli/pillarflow/pkg/models"
)

// Notifier is an outbound integration that can deliver a message (e.g. a
// Slack channel).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// Registry holds loaded notifiers by name.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

func (r *Registry) Register(name string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[name] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// NotifyAll delivers the message to every registered notifier and returns
// the first error, if any.
func (r *Registry) NotifyAll(ctx context.Context, message string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var first error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, message); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return first
}

// WorkflowCompleted formats the end-of-day summary message.
func WorkflowCompleted(w *models.DailyWorkflow) string {
	return fmt.Sprintf("Daily workflow %s completed: %d/%d tasks, %dm spent (est. %dm)",
		w.ID, w.CompletedTasks, w.TotalTasks, w.ActualTimeSpent, w.TotalEstimatedTime)
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
