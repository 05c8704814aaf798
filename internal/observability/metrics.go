// Package observability — metrics.go
//
// Prometheus metrics for the hearthcore cognitive event & decision core.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: hearthcore_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Topic/group labels use the closed topic/pipeline name sets.
//   - trace_id and event_id are NEVER used as labels (unbounded cardinality).
//   - Per-episode metrics are aggregated before recording.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for hearthcore.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Bus ──────────────────────────────────────────────────────────────────

	// PublishedTotal counts envelopes published, by topic.
	PublishedTotal *prometheus.CounterVec

	// DeliveredTotal counts envelopes handed to a handler, by topic/group.
	DeliveredTotal *prometheus.CounterVec

	// AckedTotal counts handler Acks, by topic/group.
	AckedTotal *prometheus.CounterVec

	// NackedTotal counts handler Nacks, by topic/group.
	NackedTotal *prometheus.CounterVec

	// DLQTotal counts records dead-lettered, by topic/group.
	DLQTotal *prometheus.CounterVec

	// HandlerLatency records handler execution latency, by pipeline.
	HandlerLatency *prometheus.HistogramVec

	// PublishLatency records bus publish (WAL append) latency.
	PublishLatency prometheus.Histogram

	// WALBytes is the current on-disk WAL size, by topic.
	WALBytes *prometheus.GaugeVec

	// InFlight is the current in-flight record count, by topic/group.
	InFlight *prometheus.GaugeVec

	// ─── Retrieval ────────────────────────────────────────────────────────────

	// RetrievalLatency records end-to-end search latency.
	RetrievalLatency prometheus.Histogram

	// RetrievalFastPathTotal counts fast-path (budget-starved) responses.
	RetrievalFastPathTotal prometheus.Counter

	// ─── Attention ────────────────────────────────────────────────────────────

	// AttentionDecisionsTotal counts gate decisions, by decision.
	AttentionDecisionsTotal *prometheus.CounterVec

	// AttentionIntentRoutedTotal counts the routing hint attached to every
	// ADMIT/DEFER decision, by intent and priority class.
	AttentionIntentRoutedTotal *prometheus.CounterVec

	// AttentionLoad is the current EWMA load value.
	AttentionLoad prometheus.Gauge

	// ─── Arbiter ──────────────────────────────────────────────────────────────

	// DecisionLatency records arbiter decide() latency.
	DecisionLatency prometheus.Histogram

	// DecisionsBlockedTotal counts risk-gate blocks, by reason class.
	DecisionsBlockedTotal *prometheus.CounterVec

	// ─── Budget ───────────────────────────────────────────────────────────────

	BudgetTokensRemaining prometheus.Gauge
	BudgetConsumedTotal   prometheus.Counter
	BudgetRefillsTotal    prometheus.Counter

	// ─── Storage ──────────────────────────────────────────────────────────────

	StorageWriteLatency prometheus.Histogram
	EpisodeCount        prometheus.Gauge

	// ─── Process ──────────────────────────────────────────────────────────────

	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all hearthcore Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		PublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "published_total",
			Help: "Total envelopes published, by topic.",
		}, []string{"topic"}),

		DeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "delivered_total",
			Help: "Total envelopes delivered to a handler, by topic and group.",
		}, []string{"topic", "group"}),

		AckedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "acked_total",
			Help: "Total handler acknowledgements, by topic and group.",
		}, []string{"topic", "group"}),

		NackedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "nacked_total",
			Help: "Total handler negative-acknowledgements, by topic and group.",
		}, []string{"topic", "group"}),

		DLQTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "dlq_total",
			Help: "Total records dead-lettered, by topic and group.",
		}, []string{"topic", "group"}),

		HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hearthcore", Subsystem: "pipeline", Name: "handler_latency_seconds",
			Help:    "Pipeline handler execution latency in seconds, by pipeline name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),

		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "publish_latency_seconds",
			Help:    "Bus publish (WAL append) latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		WALBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "wal_bytes",
			Help: "Current on-disk WAL size in bytes, by topic.",
		}, []string{"topic"}),

		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hearthcore", Subsystem: "bus", Name: "in_flight",
			Help: "Current in-flight record count, by topic and group.",
		}, []string{"topic", "group"}),

		RetrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearthcore", Subsystem: "retrieval", Name: "latency_seconds",
			Help:    "End-to-end retrieval search latency in seconds.",
			Buckets: []float64{0.001, 0.003, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5},
		}),

		RetrievalFastPathTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "retrieval", Name: "fast_path_total",
			Help: "Total retrieval responses served by the budget-starved fast path.",
		}),

		AttentionDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "attention", Name: "decisions_total",
			Help: "Total admission gate decisions, by decision (admit, defer, drop).",
		}, []string{"decision"}),

		AttentionIntentRoutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "attention", Name: "intent_routed_total",
			Help: "Total routing hints attached to non-dropped candidates, by intent and priority.",
		}, []string{"intent", "priority"}),

		AttentionLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearthcore", Subsystem: "attention", Name: "load",
			Help: "Current EWMA load value feeding the admission gate.",
		}),

		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearthcore", Subsystem: "arbiter", Name: "decision_latency_seconds",
			Help:    "Arbiter decide() latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		DecisionsBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "arbiter", Name: "decisions_blocked_total",
			Help: "Total candidates blocked by the risk gate, by reason class.",
		}, []string{"reason"}),

		BudgetTokensRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearthcore", Subsystem: "budget", Name: "tokens_remaining",
			Help: "Current admission token bucket level.",
		}),

		BudgetConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "budget", Name: "consumed_total",
			Help: "Lifetime total tokens consumed from the admission bucket.",
		}),

		BudgetRefillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthcore", Subsystem: "budget", Name: "refills_total",
			Help: "Total number of token bucket refill cycles completed.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearthcore", Subsystem: "storage", Name: "write_latency_seconds",
			Help:    "BoltDB write transaction latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		EpisodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearthcore", Subsystem: "storage", Name: "episode_count",
			Help: "Current number of episodes in the episodic store.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearthcore", Subsystem: "process", Name: "uptime_seconds",
			Help: "Number of seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.PublishedTotal, m.DeliveredTotal, m.AckedTotal, m.NackedTotal, m.DLQTotal,
		m.HandlerLatency, m.PublishLatency, m.WALBytes, m.InFlight,
		m.RetrievalLatency, m.RetrievalFastPathTotal,
		m.AttentionDecisionsTotal, m.AttentionIntentRoutedTotal, m.AttentionLoad,
		m.DecisionLatency, m.DecisionsBlockedTotal,
		m.BudgetTokensRemaining, m.BudgetConsumedTotal, m.BudgetRefillsTotal,
		m.StorageWriteLatency, m.EpisodeCount,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr, blocking
// until ctx is cancelled or the server fails. Binds loopback only.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
