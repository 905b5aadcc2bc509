package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mzli/pillarflow/pkg/models"
)

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	n := SlackWebhook{WebhookURL: "https://example.com"}
	reg.Register("slack", n)
	got := reg.Get("slack")
	if got != n {
		t.Fatalf("Get(slack): got %+v", got)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("Get(nonexistent) should be nil")
	}
}

func TestSlackWebhook_Notify_mockHTTP(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := SlackWebhook{WebhookURL: srv.URL}
	ctx := context.Background()
	if err := n.Notify(ctx, "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(gotBody, "hello") {
		t.Errorf("payload: %s", gotBody)
	}
}

func TestSlackWebhook_Notify_emptyURL(t *testing.T) {
	n := SlackWebhook{}
	if err := n.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty webhook URL")
	}
}

func TestRegistry_NotifyAll(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("slack", SlackWebhook{WebhookURL: srv.URL})
	if err := reg.NotifyAll(context.Background(), "done"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestWorkflowCompleted_message(t *testing.T) {
	w := &models.DailyWorkflow{
		ID: "u1:2026-08-31", CompletedTasks: 5, TotalTasks: 5,
		ActualTimeSpent: 80, TotalEstimatedTime: 100,
	}
	msg := WorkflowCompleted(w)
	if !strings.Contains(msg, "u1:2026-08-31") || !strings.Contains(msg, "5/5") {
		t.Fatalf("message: %s", msg)
	}
}
