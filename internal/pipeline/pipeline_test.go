package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearthcore/hearthcore/internal/arbiter"
	"github.com/hearthcore/hearthcore/internal/attention"
	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/cortex"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/hippocampus"
	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/observability"
	"github.com/hearthcore/hearthcore/internal/policy"
	"github.com/hearthcore/hearthcore/internal/retrieval"
	"github.com/hearthcore/hearthcore/internal/storage"
	"github.com/hearthcore/hearthcore/internal/uow"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "kv.db"), "shared:family")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	b := bus.New(kv, zaptest.NewLogger(t), bus.DefaultOptions(filepath.Join(dir, "wal")))
	ids := idgen.NewSource()

	corpus := &retrieval.Corpus{
		BM25:  retrieval.NewBM25Index(),
		TFIDF: retrieval.NewTFIDFIndex(),
		Meta:  map[string]retrieval.CandidateMeta{},
	}
	search := retrieval.NewSearch(corpus, retrieval.DefaultWeights(), retrieval.DefaultCalibration(), nil, policy.SystemClock{})

	deps := Deps{
		KV:        kv,
		Bus:       b,
		IDs:       ids,
		Clock:     policy.SystemClock{},
		Redactor:  policy.NoopRedactor{},
		Evaluator: policy.NoopPolicyEvaluator{},
		Separator: hippocampus.NewSeparator(256),
		Completer: hippocampus.NewCompleter(),
		Bridge:    hippocampus.NewBridge(),
		Search:    search,
		AttentionGate: attention.NewGate(attention.DefaultWeights(), attention.DefaultThresholds(), attention.NewLoadMeter(0.3), nil),
		Tier0:   cortex.NewLinearTier0(cortex.DefaultWeights()),
		Arbiter: arbiter.New(arbiter.DefaultWeights(), policy.NoopPolicyEvaluator{}, ids, policy.SystemClock{}, false),
		Metrics: observability.NewMetrics(),
		Log:     zaptest.NewLogger(t),
	}
	return New(deps)
}

func newTestEnvelope(topic envelope.Topic, payload any) *envelope.Envelope {
	data, _ := json.Marshal(payload)
	return &envelope.Envelope{
		EventID:   ulid.Make(),
		Topic:     topic,
		SpaceID:   "shared:family",
		Actor:     envelope.ActorRef{Kind: "member", ID: "alice"},
		Band:      envelope.BandGreen,
		TraceID:   "trace-1",
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
}

func TestHandleIngressWrite_CommitsEpisodeAndStagesHippoEncode(t *testing.T) {
	r := newTestRegistry(t)
	env := newTestEnvelope(envelope.TopicIngressRequest, ingressRequest{
		ActorID: "alice", Content: "walked the dog this morning", Tags: []string{"pet"},
	})

	result := r.handleIngressWrite(context.Background(), env)
	assert.True(t, result.Ack)

	episodes := 0
	require.NoError(t, r.deps.KV.ForEachEpisode(func(string, []byte) error { episodes++; return nil }))
	assert.Equal(t, 1, episodes)

	var staged bool
	require.NoError(t, r.deps.KV.PendingOutbox(func(id string, raw []byte) (bool, error) {
		var row uow.OutboxRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return false, err
		}
		staged = row.Topic == envelope.TopicHippoEncode
		return staged, nil
	}))
	assert.True(t, staged, "P01 must stage a hippo.encode outbox row")
}

func TestHandleIngressWrite_IdempotentOnReplay(t *testing.T) {
	r := newTestRegistry(t)
	env := newTestEnvelope(envelope.TopicIngressRequest, ingressRequest{
		ActorID: "alice", Content: "first write",
	})

	first := r.handleIngressWrite(context.Background(), env)
	require.True(t, first.Ack)

	second := r.handleIngressWrite(context.Background(), env)
	assert.True(t, second.Ack)
}

func TestIdemKey_DeterministicForSamePipelineAndEvent(t *testing.T) {
	id := ulid.Make()
	a := idemKey("p01_ingress_write", id.String())
	b := idemKey("p01_ingress_write", id.String())
	assert.Equal(t, a, b)
}

func TestIdemKey_DiffersAcrossPipelines(t *testing.T) {
	id := ulid.Make()
	a := idemKey("p01_ingress_write", id.String())
	b := idemKey("p02_hippo_encode", id.String())
	assert.NotEqual(t, a, b)
}

func TestHandlePipelineRejectSink_WritesDLQEntry(t *testing.T) {
	r := newTestRegistry(t)
	env := newTestEnvelope(envelope.TopicPipelineReject, rejectPayload{
		Pipeline: "p01_ingress_write", EventID: "evt-1", Reason: "policy_denied: test",
	})

	result := r.handlePipelineRejectSink(context.Background(), env)
	assert.True(t, result.Ack)

	entries, err := r.deps.KV.ListDLQ("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-1", entries[0].EventID)
}

func TestHandleTombstoneApply_SkipsWithoutObligation(t *testing.T) {
	r := newTestRegistry(t)
	env := newTestEnvelope(envelope.TopicActionExecuted, actionExecutedEvent{Action: "engage"})

	result := r.handleTombstoneApply(context.Background(), env)
	assert.True(t, result.Ack)
}

func TestHandleArbitration_ChoosesDeferWhenWorkspaceEmpty(t *testing.T) {
	r := newTestRegistry(t)
	env := newTestEnvelope(envelope.TopicCortexPrediction, cortexPredictionEvent{
		NeedAction: 0.1, NeedRecall: 0.1, ExpectedReward: 0, Uncertainty: 0.9, DeferValue: 0.9,
	})

	result := r.handleArbitration(context.Background(), env)
	assert.True(t, result.Ack)

	var decision actionDecisionEvent
	var found bool
	require.NoError(t, r.deps.KV.PendingOutbox(func(id string, raw []byte) (bool, error) {
		var row uow.OutboxRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return false, err
		}
		if row.Topic != envelope.TopicActionDecision {
			return false, nil
		}
		found = true
		return true, json.Unmarshal(row.Payload, &decision)
	}))
	require.True(t, found, "P12 must stage an action.decision outbox row")
	assert.Equal(t, "defer", decision.ChosenAction)
}
