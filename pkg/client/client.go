// Package client provides a Go SDK for the Pillarflow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mzli/pillarflow/pkg/models"
)

// Client calls the Pillarflow HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:4710"
	APIKey     string       // optional; set for X-API-Key / api_key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:4710").
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error       string              `json:"error"`
			EngineError *models.EngineError `json:"engine_error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.EngineError != nil {
			return errBody.EngineError
		}
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func workflowPath(workflowID string) string {
	return "/workflows/" + url.PathEscape(workflowID)
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// GenerateWorkflow creates (or returns the existing) workflow for a user and date.
// genCtx is optional generation context, e.g. {"pillar": "generate"}.
func (c *Client) GenerateWorkflow(ctx context.Context, userID, date string, genCtx map[string]string) (*models.DailyWorkflow, error) {
	body := map[string]any{"user_id": userID, "date": date}
	if len(genCtx) > 0 {
		body["context"] = genCtx
	}
	var out models.DailyWorkflow
	err := c.doJSON(ctx, http.MethodPost, "/workflows", body, &out)
	return &out, err
}

// ListWorkflows returns all known workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]models.DailyWorkflow, error) {
	var out []models.DailyWorkflow
	err := c.doJSON(ctx, http.MethodGet, "/workflows", nil, &out)
	return out, err
}

// GetWorkflow returns a workflow by id ("user:date").
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*models.DailyWorkflow, error) {
	var out models.DailyWorkflow
	err := c.doJSON(ctx, http.MethodGet, workflowPath(workflowID), nil, &out)
	return &out, err
}

// StartWorkflow transitions a workflow to in_progress and returns it.
func (c *Client) StartWorkflow(ctx context.Context, workflowID string) (*models.DailyWorkflow, error) {
	var out models.DailyWorkflow
	err := c.doJSON(ctx, http.MethodPost, workflowPath(workflowID)+"/start", nil, &out)
	return &out, err
}

// CompleteTaskResult pairs the updated progress with the verifier's verdict.
type CompleteTaskResult struct {
	Progress     *models.WorkflowProgress  `json:"progress"`
	Verification models.VerificationResult `json:"verification"`
}

// VerifySignals is the optional evidence sent along with a completion claim.
type VerifySignals struct {
	UserActivity []string       `json:"user_activity,omitempty"` // RFC3339 timestamps
	Platform     map[string]any `json:"platform,omitempty"`
}

// CompleteTask marks a task completed. signals may be nil.
func (c *Client) CompleteTask(ctx context.Context, workflowID, taskID string, signals *VerifySignals) (*CompleteTaskResult, error) {
	var out CompleteTaskResult
	path := workflowPath(workflowID) + "/tasks/" + url.PathEscape(taskID) + "/complete"
	var body any
	if signals != nil {
		body = signals
	} else {
		body = map[string]any{}
	}
	err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	return &out, err
}

// SkipTask marks a task skipped and returns the updated progress.
func (c *Client) SkipTask(ctx context.Context, workflowID, taskID string) (*models.WorkflowProgress, error) {
	var out struct {
		Progress *models.WorkflowProgress `json:"progress"`
	}
	path := workflowPath(workflowID) + "/tasks/" + url.PathEscape(taskID) + "/skip"
	err := c.doJSON(ctx, http.MethodPost, path, map[string]any{}, &out)
	return out.Progress, err
}

// Progress returns the workflow's progress summary.
func (c *Client) Progress(ctx context.Context, workflowID string) (*models.WorkflowProgress, error) {
	var out models.WorkflowProgress
	err := c.doJSON(ctx, http.MethodGet, workflowPath(workflowID)+"/progress", nil, &out)
	return &out, err
}

// NavigationState returns the cursor-based previous/current/next view.
func (c *Client) NavigationState(ctx context.Context, workflowID string) (*models.NavigationState, error) {
	var out models.NavigationState
	err := c.doJSON(ctx, http.MethodGet, workflowPath(workflowID)+"/navigation", nil, &out)
	return &out, err
}

// AdvanceCursor moves the workflow cursor forward. Returns nil task at the
// end of the sequence.
func (c *Client) AdvanceCursor(ctx context.Context, workflowID string) (*models.Task, error) {
	var out struct {
		NextTask *models.Task `json:"next_task"`
	}
	err := c.doJSON(ctx, http.MethodPost, workflowPath(workflowID)+"/advance", nil, &out)
	return out.NextTask, err
}

// DependencyChain returns the transitive dependencies of a task.
func (c *Client) DependencyChain(ctx context.Context, workflowID, taskID string) ([]string, error) {
	var out struct {
		Chain []string `json:"chain"`
	}
	path := workflowPath(workflowID) + "/tasks/" + url.PathEscape(taskID) + "/chain"
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Chain, err
}

// VerificationStats returns aggregate verification statistics.
func (c *Client) VerificationStats(ctx context.Context) (*models.VerificationStats, error) {
	var out models.VerificationStats
	err := c.doJSON(ctx, http.MethodGet, "/verifications/stats", nil, &out)
	return &out, err
}

// ClearCompleted removes all completed workflows and returns how many.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	err := c.doJSON(ctx, http.MethodDelete, "/workflows/completed", nil, &out)
	return out.Cleared, err
}
