package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mzli/pillarflow/internal/engine"
	"github.com/mzli/pillarflow/internal/notify"
	"github.com/mzli/pillarflow/internal/otel"
	"github.com/mzli/pillarflow/internal/source"
	"github.com/mzli/pillarflow/internal/store"
	"github.com/mzli/pillarflow/internal/store/postgres"
	"github.com/mzli/pillarflow/internal/verify"
	"github.com/mzli/pillarflow/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (frontend on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string // if set, require X-API-Key header or query api_key
	DBDriver       string // "sqlite" (default) or "postgres"
	DBURL          string // for postgres: connection string (or set DATABASE_URL env)
	PlanPath       string // YAML task plan; defaults to <home>/plan.yaml
	AutoAdvance    bool
	AdvanceDelay   time.Duration
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, SSE hub, workflow engine, store, and home path.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Engine *engine.Engine
	Store  store.Store
	Notify *notify.Registry // optional; loaded from env (e.g. SLACK_WEBHOOK_URL)
	Home   string
}

// NewApp creates the HTTP app (server, hub, store, engine) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	planPath := opts.PlanPath
	if planPath == "" && opts.Home != "" {
		planPath = filepath.Join(opts.Home, "plan.yaml")
	}
	src := &source.TemplateProvider{Path: planPath}

	// Auto-navigation surfaces as an SSE event; clients decide what to do
	// with the destination.
	nav := engine.NavigatorFunc(func(ctx context.Context, task *models.Task, w *models.DailyWorkflow) error {
		hub.PublishJSON(map[string]any{
			"type":          "navigate",
			"workflow_id":   w.ID,
			"task_id":       task.ID,
			"action_type":   task.ActionType,
			"action_target": task.ActionTarget,
		})
		return nil
	})

	eng := engine.New(engine.Options{
		Source:       src,
		Store:        st,
		Navigator:    nav,
		AutoAdvance:  opts.AutoAdvance,
		AdvanceDelay: opts.AdvanceDelay,
	})

	reg := notify.NewRegistry()
	if u := os.Getenv("SLACK_WEBHOOK_URL"); u != "" {
		reg.Register("slack", notify.SlackWebhook{WebhookURL: u})
	}

	// notifyIfCompleted pushes the end-of-day summary once a workflow's last
	// task lands. Delivery is async and best-effort.
	notifyIfCompleted := func(workflowID string) {
		wf, err := eng.Workflow(workflowID)
		if err != nil || wf.WorkflowStatus != models.WorkflowCompleted {
			return
		}
		msg := notify.WorkflowCompleted(wf)
		go func() {
			if err := reg.NotifyAll(context.Background(), msg); err != nil {
				slog.Warn("completion notification failed", "workflow", workflowID, "err", err)
			}
		}()
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			var notStarted, inProgress, completed int64
			for _, wf := range eng.Workflows() {
				switch wf.WorkflowStatus {
				case models.WorkflowNotStarted:
					notStarted++
				case models.WorkflowInProgress:
					inProgress++
				case models.WorkflowCompleted:
					completed++
				}
			}
			_, _ = fmt.Fprintf(w, "# TYPE pillarflow_workflows_total gauge\n")
			_, _ = fmt.Fprintf(w, "pillarflow_workflows_total{status=\"not_started\"} %d\n", notStarted)
			_, _ = fmt.Fprintf(w, "pillarflow_workflows_total{status=\"in_progress\"} %d\n", inProgress)
			_, _ = fmt.Fprintf(w, "pillarflow_workflows_total{status=\"completed\"} %d\n", completed)
		})
	}

	mux.HandleFunc("/stream", hub.Handler())

	mux.HandleFunc("/verifications/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, eng.Verifier().Stats())
	})

	// --- Workflows ---
	mux.HandleFunc("/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			wfs := eng.Workflows()
			if len(wfs) > models.DefaultWorkflowListLimit {
				wfs = wfs[:models.DefaultWorkflowListLimit]
			}
			writeJSON(w, wfs)
			return
		case http.MethodPost:
			var body struct {
				UserID  string            `json:"user_id"`
				Date    string            `json:"date"`
				Context map[string]string `json:"context"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if body.UserID == "" || body.Date == "" {
				writeJSONError(w, http.StatusBadRequest, "user_id and date required")
				return
			}
			wf, err := eng.GenerateWorkflow(r.Context(), body.UserID, body.Date, body.Context)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			otel.RecordWorkflowOp(r.Context(), "generate", body.UserID)
			hub.PublishJSON(map[string]any{"type": "workflow_update", "workflow_id": wf.ID})
			writeJSON(w, wf)
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	// --- Workflow-scoped endpoints ---
	mux.HandleFunc("/workflows/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/workflows/")
		parts := strings.Split(rest, "/")
		if len(parts) < 1 || parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}

		// DELETE /workflows/completed — remove every completed workflow.
		if parts[0] == "completed" && len(parts) == 1 {
			if r.Method != http.MethodDelete {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			n := eng.ClearCompleted(r.Context())
			otel.RecordWorkflowOp(r.Context(), "clear", "")
			hub.PublishJSON(map[string]any{"type": "workflow_update", "cleared": n})
			writeJSON(w, map[string]any{"cleared": n})
			return
		}

		id := parts[0]

		// /workflows/{id}
		if len(parts) == 1 || parts[1] == "" {
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			wf, err := eng.Workflow(id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, wf)
			return
		}

		switch parts[1] {
		case "start":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			wf, err := eng.StartWorkflow(r.Context(), id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			otel.RecordWorkflowOp(r.Context(), "start", wf.UserID)
			hub.PublishJSON(map[string]any{"type": "workflow_update", "workflow_id": wf.ID, "status": wf.WorkflowStatus})
			writeJSON(w, wf)
			return

		case "progress":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			p, err := eng.Progress(id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, p)
			return

		case "navigation":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			ns, err := eng.NavigationState(id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, ns)
			return

		case "advance":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			next, err := eng.AdvanceCursor(r.Context(), id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			if next != nil {
				hub.PublishJSON(map[string]any{"type": "task_update", "workflow_id": id, "task_id": next.ID, "status": next.Status})
			}
			writeJSON(w, map[string]any{"next_task": next})
			return

		case "graph":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			vr, err := eng.Validate(id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, vr)
			return

		case "tasks":
			// /workflows/{id}/tasks/{taskID}/chain|complete|skip
			if len(parts) < 4 || parts[2] == "" {
				writeJSONError(w, http.StatusNotFound, "not found")
				return
			}
			taskID := parts[2]
			if parts[3] == "chain" {
				if r.Method != http.MethodGet {
					writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
					return
				}
				chain, err := eng.DependencyChain(id, taskID)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				writeJSON(w, map[string]any{"task_id": taskID, "chain": chain})
				return
			}
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			switch parts[3] {
			case "complete":
				vctx, err := decodeVerifyContext(r, id)
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid json")
					return
				}
				p, vres, err := eng.CompleteTask(r.Context(), id, taskID, vctx)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				pillar := ""
				if wf, err := eng.Workflow(id); err == nil {
					if t := wf.Task(taskID); t != nil {
						pillar = t.PillarID
					}
				}
				otel.RecordTaskTransition(r.Context(), pillar, models.TaskCompleted)
				otel.RecordVerification(r.Context(), pillar, vres.Confidence, vres.IsCompleted)
				hub.PublishJSON(map[string]any{"type": "task_update", "workflow_id": id, "task_id": taskID, "status": models.TaskCompleted})
				notifyIfCompleted(id)
				writeJSON(w, map[string]any{"progress": p, "verification": vres})
				return
			case "skip":
				p, err := eng.SkipTask(r.Context(), id, taskID)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				otel.RecordTaskTransition(r.Context(), "", models.TaskSkipped)
				hub.PublishJSON(map[string]any{"type": "task_update", "workflow_id": id, "task_id": taskID, "status": models.TaskSkipped})
				notifyIfCompleted(id)
				writeJSON(w, map[string]any{"progress": p})
				return
			default:
				writeJSONError(w, http.StatusNotFound, "not found")
				return
			}

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "pillarflow")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})

	return &App{Server: srv, Hub: hub, Engine: eng, Store: st, Notify: reg, Home: opts.Home}, nil
}

// decodeVerifyContext reads an optional verification-context body. An empty
// body is fine; verification just runs with no signals.
func decodeVerifyContext(r *http.Request, workflowID string) (*verify.Context, error) {
	var body struct {
		Timestamp    *time.Time  `json:"timestamp,omitempty"`
		UserActivity []time.Time `json:"user_activity,omitempty"`
		Platform     *struct {
			CurrentLocation string     `json:"current_location"`
			LastActivity    *time.Time `json:"last_activity,omitempty"`
		} `json:"platform,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	vctx := &verify.Context{
		UserID:       strings.SplitN(workflowID, ":", 2)[0],
		Timestamp:    time.Now().UTC(),
		UserActivity: body.UserActivity,
	}
	if body.Timestamp != nil {
		vctx.Timestamp = *body.Timestamp
	}
	if body.Platform != nil {
		vctx.Platform = &verify.PlatformData{
			CurrentLocation: body.Platform.CurrentLocation,
			LastActivity:    body.Platform.LastActivity,
		}
	}
	return vctx, nil
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeEngineError maps engine error codes to HTTP statuses and includes
// the structured error in the body so clients can branch on code.
func writeEngineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case models.IsCode(err, models.CodeWorkflowNotFound), models.IsCode(err, models.CodeTaskNotFound):
		code = http.StatusNotFound
	case models.IsCode(err, models.CodeCircularDependency):
		code = http.StatusUnprocessableEntity
	case models.IsCode(err, models.CodeWorkflowGenerationFailed):
		code = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	var ee *models.EngineError
	if errors.As(err, &ee) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": ee.Message, "engine_error": ee})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}
