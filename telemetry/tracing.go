package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this instrumentation library.
const tracerName = "github.com/taskloom/taskloom"

// TracingSink opens one span per node stage execution, pairing the
// engine's stage.start and stage.end events. Span export is whatever
// TracerProvider the embedding process installed; the sink only speaks
// the OTel API.
type TracingSink struct {
	tracer trace.Tracer

	mu   sync.Mutex
	open map[string]trace.Span
}

// NewTracingSink creates a tracing sink on the globally registered
// tracer provider.
func NewTracingSink() *TracingSink {
	return &TracingSink{
		tracer: otel.Tracer(tracerName),
		open:   make(map[string]trace.Span),
	}
}

// Emit implements engine.Sink.
func (s *TracingSink) Emit(eventType string, payload map[string]any) {
	taskID, _ := payload["task_id"].(string)
	nodeID, _ := payload["node_id"].(string)
	key := taskID + "/" + nodeID

	switch eventType {
	case "stage.start":
		_, span := s.tracer.Start(context.Background(), "stage "+nodeID,
			trace.WithAttributes(
				attribute.String("taskloom.task_id", taskID),
				attribute.String("taskloom.node_id", nodeID),
			),
		)
		s.mu.Lock()
		s.open[key] = span
		s.mu.Unlock()

	case "stage.end":
		s.mu.Lock()
		span, ok := s.open[key]
		delete(s.open, key)
		s.mu.Unlock()
		if !ok {
			return
		}
		if failed, _ := payload["failed"].(bool); failed {
			span.SetStatus(codes.Error, "stage failed")
		}
		span.End()

	case "task.failed", "task.completed", "task.cancelled":
		// Terminal task events become zero-duration marker spans.
		_, span := s.tracer.Start(context.Background(), eventType,
			trace.WithAttributes(attribute.String("taskloom.task_id", taskID)),
		)
		span.End()
	}
}
