package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	workflowOpsCounter  metric.Int64Counter
	taskTransitions     metric.Int64Counter
	verifyConfidence    metric.Float64Histogram
	sseEventsCounter    metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		workflowOpsCounter, err = m.Int64Counter("pillarflow_workflow_operations_total", metric.WithDescription("Total workflow operations (generate, start, clear, etc.)"))
		if err != nil {
			return
		}
		taskTransitions, err = m.Int64Counter("pillarflow_task_transitions_total", metric.WithDescription("Total task status transitions"))
		if err != nil {
			return
		}
		verifyConfidence, err = m.Float64Histogram("pillarflow_verification_confidence", metric.WithDescription("Completion verification confidence scores"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("pillarflow_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("pillarflow_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
	})
	return err
}

// RecordWorkflowOp records a workflow-level operation.
func RecordWorkflowOp(ctx context.Context, op, user string) {
	if workflowOpsCounter == nil {
		return
	}
	workflowOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrUser.String(user),
	))
}

// RecordTaskTransition records a task moving to a new status.
func RecordTaskTransition(ctx context.Context, pillar, status string) {
	if taskTransitions == nil {
		return
	}
	taskTransitions.Add(ctx, 1, metric.WithAttributes(
		AttrPillar.String(pillar),
		AttrStatus.String(status),
	))
}

// RecordVerification records a verification outcome and its confidence.
func RecordVerification(ctx context.Context, pillar string, confidence float64, completed bool) {
	if verifyConfidence == nil {
		return
	}
	outcome := "rejected"
	if completed {
		outcome = "verified"
	}
	verifyConfidence.Record(ctx, confidence, metric.WithAttributes(
		AttrPillar.String(pillar),
		AttrOutcome.String(outcome),
	))
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}
