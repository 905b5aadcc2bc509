package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestHandlers exercises validation paths and the task lifecycle routes.
func TestHandlers(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	app, err := NewApp(ServerOptions{Home: home, Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)

	// POST workflow with missing fields
	resp, _ := http.Post(ts.URL+"/workflows", "application/json", strings.NewReader(`{"user_id":""}`))
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /workflows empty user_id: status=%d", resp.StatusCode)
	}

	// POST workflow with invalid json
	badResp, _ := http.Post(ts.URL+"/workflows", "application/json", strings.NewReader(`{`))
	if badResp != nil {
		_ = badResp.Body.Close()
	}
	if badResp != nil && badResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /workflows bad json: status=%d", badResp.StatusCode)
	}

	// Generate for the lifecycle below
	genResp, _ := http.Post(ts.URL+"/workflows", "application/json",
		strings.NewReader(`{"user_id":"h1","date":"2026-08-31"}`))
	if genResp == nil || genResp.StatusCode != 200 {
		t.Fatalf("POST /workflows: %v", genResp)
	}
	_ = genResp.Body.Close()
	wfID := "h1:2026-08-31"

	// Start
	startResp, _ := http.Post(ts.URL+"/workflows/"+wfID+"/start", "application/json", nil)
	if startResp == nil || startResp.StatusCode != 200 {
		t.Fatalf("POST start: %v", startResp)
	}
	var started struct {
		WorkflowStatus string `json:"workflow_status"`
	}
	_ = json.NewDecoder(startResp.Body).Decode(&started)
	_ = startResp.Body.Close()
	if started.WorkflowStatus != "in_progress" {
		t.Fatalf("start: workflow_status=%q", started.WorkflowStatus)
	}

	// Complete the first task with platform signals; navigation rule should
	// verify (location match + recent platform activity).
	after := time.Now().UTC().Add(time.Minute).Format(time.RFC3339)
	completeBody := `{"platform":{"current_location":"strategy","last_activity":"` + after + `"}}`
	compResp, _ := http.Post(ts.URL+"/workflows/"+wfID+"/tasks/plan-review/complete",
		"application/json", strings.NewReader(completeBody))
	if compResp == nil || compResp.StatusCode != 200 {
		t.Fatalf("POST complete: %v", compResp)
	}
	var comp struct {
		Progress struct {
			CompletedTasks int `json:"completed_tasks"`
			TotalTasks     int `json:"total_tasks"`
		} `json:"progress"`
		Verification struct {
			IsCompleted bool    `json:"is_completed"`
			Confidence  float64 `json:"confidence"`
		} `json:"verification"`
	}
	if err := json.NewDecoder(compResp.Body).Decode(&comp); err != nil {
		t.Fatalf("decode complete: %v", err)
	}
	_ = compResp.Body.Close()
	if comp.Progress.CompletedTasks != 1 || comp.Progress.TotalTasks != 5 {
		t.Fatalf("complete progress: %+v", comp.Progress)
	}
	if !comp.Verification.IsCompleted || comp.Verification.Confidence < 0.6 {
		t.Fatalf("complete verification: %+v", comp.Verification)
	}

	// Complete on a missing task returns 404 with TASK_NOT_FOUND
	missResp, _ := http.Post(ts.URL+"/workflows/"+wfID+"/tasks/nope/complete", "application/json", nil)
	if missResp == nil || missResp.StatusCode != http.StatusNotFound {
		t.Fatalf("POST complete missing task: %v", missResp)
	}
	var missBody struct {
		EngineError struct {
			Code string `json:"code"`
		} `json:"engine_error"`
	}
	_ = json.NewDecoder(missResp.Body).Decode(&missBody)
	_ = missResp.Body.Close()
	if missBody.EngineError.Code != "TASK_NOT_FOUND" {
		t.Fatalf("missing task code: %q", missBody.EngineError.Code)
	}

	// Skip a task; skips count toward progress
	skipResp, _ := http.Post(ts.URL+"/workflows/"+wfID+"/tasks/publish-metrics/skip", "application/json", nil)
	if skipResp == nil || skipResp.StatusCode != 200 {
		t.Fatalf("POST skip: %v", skipResp)
	}
	var skipped struct {
		Progress struct {
			CompletedTasks int `json:"completed_tasks"`
		} `json:"progress"`
	}
	_ = json.NewDecoder(skipResp.Body).Decode(&skipped)
	_ = skipResp.Body.Close()
	if skipped.Progress.CompletedTasks != 2 {
		t.Fatalf("skip progress: %+v", skipped.Progress)
	}

	// Progress and navigation
	progResp, _ := http.Get(ts.URL + "/workflows/" + wfID + "/progress")
	if progResp == nil || progResp.StatusCode != 200 {
		t.Fatalf("GET progress: %v", progResp)
	}
	var prog struct {
		CompletionPercentage float64 `json:"completion_percentage"`
	}
	_ = json.NewDecoder(progResp.Body).Decode(&prog)
	_ = progResp.Body.Close()
	if prog.CompletionPercentage != 40 {
		t.Fatalf("completion percentage: %v", prog.CompletionPercentage)
	}

	navResp, _ := http.Get(ts.URL + "/workflows/" + wfID + "/navigation")
	if navResp == nil || navResp.StatusCode != 200 {
		t.Fatalf("GET navigation: %v", navResp)
	}
	var nav struct {
		CanGoForward bool `json:"can_go_forward"`
	}
	_ = json.NewDecoder(navResp.Body).Decode(&nav)
	_ = navResp.Body.Close()
	if !nav.CanGoForward {
		t.Fatal("expected can_go_forward at cursor 0")
	}

	// Advance the cursor
	advResp, _ := http.Post(ts.URL+"/workflows/"+wfID+"/advance", "application/json", nil)
	if advResp == nil || advResp.StatusCode != 200 {
		t.Fatalf("POST advance: %v", advResp)
	}
	var adv struct {
		NextTask *struct {
			ID string `json:"id"`
		} `json:"next_task"`
	}
	_ = json.NewDecoder(advResp.Body).Decode(&adv)
	_ = advResp.Body.Close()
	if adv.NextTask == nil || adv.NextTask.ID != "generate-draft" {
		t.Fatalf("advance: %+v", adv.NextTask)
	}

	// Verification stats reflect the one recorded verification
	statsResp, _ := http.Get(ts.URL + "/verifications/stats")
	if statsResp == nil || statsResp.StatusCode != 200 {
		t.Fatalf("GET stats: %v", statsResp)
	}
	var stats struct {
		TotalVerifications int `json:"total_verifications"`
	}
	_ = json.NewDecoder(statsResp.Body).Decode(&stats)
	_ = statsResp.Body.Close()
	if stats.TotalVerifications < 1 {
		t.Fatalf("stats: %+v", stats)
	}

	// Method-not-allowed checks
	putResp, _ := http.Post(ts.URL+"/workflows/"+wfID+"/progress", "application/json", nil)
	if putResp == nil || putResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST progress: %v", putResp)
	}
	_ = putResp.Body.Close()

	// chain for a missing task
	chainResp, _ := http.Get(ts.URL + "/workflows/" + wfID + "/tasks/nope/chain")
	if chainResp == nil || chainResp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET chain for missing task: %v", chainResp)
	}
	_ = chainResp.Body.Close()
}
