package telemetry

import (
	"go.uber.org/zap"
)

// ZapSink logs every engine event at debug level. It is the cheapest
// sink and the default choice for development.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a logging sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.With(zap.String("component", "telemetry"))}
}

// Emit implements engine.Sink.
func (s *ZapSink) Emit(eventType string, payload map[string]any) {
	s.logger.Debug("engine event",
		zap.String("event", eventType),
		zap.Any("payload", payload),
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink struct {
	sinks []interface {
		Emit(eventType string, payload map[string]any)
	}
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...interface {
	Emit(eventType string, payload map[string]any)
}) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit implements engine.Sink.
func (s *MultiSink) Emit(eventType string, payload map[string]any) {
	for _, sink := range s.sinks {
		sink.Emit(eventType, payload)
	}
}
