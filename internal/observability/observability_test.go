package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestObserverCore() (zapcore.Core, *observer.ObservedLogs) {
	return observer.New(zapcore.InfoLevel)
}

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		m := NewMetrics()
		m.PublishedTotal.WithLabelValues("ingress.request").Inc()
		m.AttentionLoad.Set(0.42)
	})
}

func TestSpan_FinishEmitsLogLine(t *testing.T) {
	core, logs := newTestObserverCore()
	log := zap.New(core)
	span := StartSpan(log, "bus", "publish", "trace-1")
	span.Finish("ok")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "span", entries[0].Message)
}
