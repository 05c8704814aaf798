package observability

import (
	"time"

	"go.uber.org/zap"
)

// Span wraps a component-boundary call with start/stop timing and emits
// the structured log line {ts, component, op, trace_id, duration_ms,
// result} on Finish (spec.md §4.11), generalizing the teacher's ad-hoc
// per-call zap.Info pattern into one reusable helper.
type Span struct {
	log       *zap.Logger
	component string
	op        string
	traceID   string
	start     time.Time
}

// StartSpan begins timing one component-boundary operation.
func StartSpan(log *zap.Logger, component, op, traceID string) *Span {
	return &Span{log: log, component: component, op: op, traceID: traceID, start: time.Now()}
}

// Finish emits the structured boundary log line. result is typically
// "ok", "error", or a handler disposition like "ack"/"nack"/"reject".
func (s *Span) Finish(result string, fields ...zap.Field) {
	elapsed := time.Since(s.start)
	all := append([]zap.Field{
		zap.String("component", s.component),
		zap.String("op", s.op),
		zap.String("trace_id", s.traceID),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000.0),
		zap.String("result", result),
	}, fields...)
	s.log.Info("span", all...)
}
