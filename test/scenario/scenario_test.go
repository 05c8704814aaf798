// Package scenario runs the concrete end-to-end scenarios named in
// spec.md §8 (S1-S6) against the real subsystems, not mocks.
package scenario

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/hearthcore/hearthcore/internal/arbiter"
	"github.com/hearthcore/hearthcore/internal/attention"
	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/policy"
	"github.com/hearthcore/hearthcore/internal/retrieval"
	"github.com/hearthcore/hearthcore/internal/storage"
	"github.com/hearthcore/hearthcore/internal/temporal"
	"github.com/hearthcore/hearthcore/internal/uow"
)

const spaceID = "shared:family"

// TestMain asserts the bus's consumer goroutines and the operator
// listener (when exercised) all wind down after each test's deferred
// Close — no leaked goroutines hiding a stuck consumer group.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// S1: two writes with the same actor/device/payload in the same space
// produce a single episode, a single receipt, and exactly one
// hippo.encode event on the bus.
func TestS1_DuplicateWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "kv.db"), spaceID)
	require.NoError(t, err)
	defer kv.Close()
	ids := idgen.NewSource()
	now := time.Now().UTC()

	u1, receipt1, err := uow.Begin(context.Background(), kv, ids, "alice", spaceID, "fixed-idem-key")
	require.NoError(t, err)
	require.Nil(t, receipt1)
	ep := u1.StageEpisode(uow.Episode{Actor: envelope.ActorRef{Kind: "member", ID: "alice"}, Band: envelope.BandGreen, Content: "walked the dog"}, now)
	require.NoError(t, u1.StageEvent(envelope.TopicHippoEncode, map[string]string{"episode_id": ep.ID}, now))
	got1, err := u1.Commit(now)
	require.NoError(t, err)

	u2, replayReceipt, err := uow.Begin(context.Background(), kv, ids, "alice", spaceID, "fixed-idem-key")
	require.NoError(t, err)
	require.NotNil(t, replayReceipt, "second Begin with the same idem_key must short-circuit to the prior receipt")
	_ = u2

	assert.Equal(t, got1.ID, replayReceipt.ID, "receipt_id must match across the duplicate write")

	var count int
	require.NoError(t, kv.ForEachEpisode(func(id string, raw []byte) error { count++; return nil }))
	assert.Equal(t, 1, count, "exactly one episode must be stored")
}

// S2: events at two timestamps one evening apart are both returned by a
// "last Friday" phrase-scoped query, ranked by recency, half-life 72h.
func TestS2_TemporalPhraseRecall(t *testing.T) {
	now := time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC)
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	r := temporal.ParsePhrase("friday", now, loc)
	require.Greater(t, r.Confidence, 0.0)

	ts1 := time.Date(2025, 9, 5, 18, 6, 0, 0, time.UTC)
	ts2 := time.Date(2025, 9, 5, 19, 10, 0, 0, time.UTC)
	require.True(t, !ts1.Before(r.From) && ts1.Before(r.To), "first event must fall inside the resolved range")
	require.True(t, !ts2.Before(r.From) && ts2.Before(r.To), "second event must fall inside the resolved range")

	corpus := &retrieval.Corpus{
		BM25:     retrieval.NewBM25Index(),
		TFIDF:    retrieval.NewTFIDFIndex(),
		Temporal: temporal.New(loc, 72),
		IDs:      temporal.NewIDMap(),
		Meta:     map[string]retrieval.CandidateMeta{},
	}
	corpus.BM25.Index(retrieval.Document{ID: "evt-1", Tokens: retrieval.Tokenize("dinner with family")})
	corpus.BM25.Index(retrieval.Document{ID: "evt-2", Tokens: retrieval.Tokenize("dinner and dessert")})
	corpus.TFIDF.Index(retrieval.Document{ID: "evt-1", Tokens: retrieval.Tokenize("dinner with family")})
	corpus.TFIDF.Index(retrieval.Document{ID: "evt-2", Tokens: retrieval.Tokenize("dinner and dessert")})
	corpus.Meta["evt-1"] = retrieval.CandidateMeta{Timestamp: ts1}
	corpus.Meta["evt-2"] = retrieval.CandidateMeta{Timestamp: ts2}
	corpus.Temporal.Index(corpus.IDs.Dense("evt-1"), ts1)
	corpus.Temporal.Index(corpus.IDs.Dense("evt-2"), ts2)

	search := retrieval.NewSearch(corpus, retrieval.DefaultWeights(), retrieval.DefaultCalibration(), nil, policy.SystemClock{})
	resp, err := search.Run(context.Background(), retrieval.Request{
		Query: "dinner", TimeRange: &r, TimeBudgetMS: 50, K: 10, Now: now,
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, s := range resp.Results {
		ids[s.ID] = true
	}
	assert.True(t, ids["evt-1"] && ids["evt-2"], "both Friday-evening events must be returned")

	rw1 := corpus.Temporal.RecencyWeight(ts1, now)
	wantRw1 := math.Pow(2, -now.Sub(ts1).Hours()/72)
	assert.InDelta(t, wantRw1, rw1, 1e-9)
}

// S3: under current_load=0.95, a candidate whose weighted salience is
// 0.2 is DROPped, not merely deferred.
func TestS3_AttentionDropsUnderLoad(t *testing.T) {
	load := attention.NewLoadMeter(0.0)
	load.Sample(0.95)
	gate := attention.NewGate(attention.DefaultWeights(), attention.DefaultThresholds(), load, nil)

	result := gate.Admit(attention.Candidate{
		Novelty: 0.2, AffectArousal: 0.2, UrgencyTag: 0.2, ActorPriority: 0.2, RecencyOfRelated: 0.2,
	})

	assert.InDelta(t, 0.2, result.Salience, 1e-9)
	assert.Equal(t, attention.DecisionDrop, result.Decision)
}

// S4: band=RED with a minor present blocks every sharing-class candidate,
// leaving the arbiter with no admissible action.
func TestS4_ArbiterRiskGateBlocksSharingUnderRed(t *testing.T) {
	arb := arbiter.New(arbiter.DefaultWeights(), policy.NoopPolicyEvaluator{}, idgen.NewSource(), policy.SystemClock{}, false)

	frame := arbiter.Frame{
		SpaceID: spaceID, ActorID: "alice", TraceID: "trace-s4",
		Band: envelope.BandRed, MinorPresent: true,
		Candidates: []arbiter.Candidate{
			{Action: "share_photo", Cost: 0.2, Risk: 0.5, Prior: 0.8, SharingClass: true},
		},
	}

	decision, err := arb.Decide(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "noop", decision.ChosenAction)
	found := false
	for _, reason := range decision.Reasons {
		if reason == "band=RED ∧ minor_present|conflict_hint -> block" {
			found = true
		}
	}
	assert.True(t, found, "reasons must name the RED+minor_present block")
}

// S5: a handler that Nacks deterministically exhausts max_attempts=3 and
// lands in the DLQ, with committed_offset advancing past it.
func TestS5_BusRetryThenDLQ(t *testing.T) {
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "space.db"), spaceID)
	require.NoError(t, err)
	defer kv.Close()

	opts := bus.DefaultOptions(dir)
	opts.MaxAttempts = 3
	opts.Backoff.Base = 20 * time.Millisecond
	opts.Backoff.Max = 200 * time.Millisecond
	opts.Backoff.Jitter = 0
	b := bus.New(kv, zaptest.NewLogger(t), opts)
	defer b.Close()

	ids := idgen.NewSource()
	err = b.Subscribe(envelope.TopicHippoEncode, "group-s5", func(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
		return bus.Nack(true, "deterministic failure")
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	env := &envelope.Envelope{
		EventID: ids.NewID(now), Topic: envelope.TopicHippoEncode, SpaceID: spaceID,
		Actor: envelope.ActorRef{Kind: "system", ID: "test"}, Band: envelope.BandGreen,
		TraceID: "trace-s5", Timestamp: now, Payload: []byte(`"will fail"`),
	}
	_, err = b.Publish(context.Background(), env)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := kv.ListDLQ(string(envelope.TopicHippoEncode))
		return err == nil && len(entries) == 1
	}, 3*time.Second, 10*time.Millisecond)

	offset, err := b.Offset(envelope.TopicHippoEncode, "group-s5")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, offset, uint64(1), "committed_offset must advance past the dead-lettered record")
}

// S6: a 2ms time budget triggers the lexical-only fast path, skipping
// MMR and the reranker, and traces why.
func TestS6_RetrievalFastPathOnTightBudget(t *testing.T) {
	corpus := &retrieval.Corpus{
		BM25:  retrieval.NewBM25Index(),
		TFIDF: retrieval.NewTFIDFIndex(),
		Meta:  map[string]retrieval.CandidateMeta{},
	}
	corpus.BM25.Index(retrieval.Document{ID: "evt-1", Tokens: retrieval.Tokenize("balloons and candles for the party")})
	corpus.TFIDF.Index(retrieval.Document{ID: "evt-1", Tokens: retrieval.Tokenize("balloons and candles for the party")})
	corpus.Meta["evt-1"] = retrieval.CandidateMeta{Timestamp: time.Now()}

	search := retrieval.NewSearch(corpus, retrieval.DefaultWeights(), retrieval.DefaultCalibration(), nil, policy.SystemClock{})
	resp, err := search.Run(context.Background(), retrieval.Request{
		Query: "balloons candles", TimeBudgetMS: 2, K: 10, Now: time.Now(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	var sawFastPathReason bool
	for _, tr := range resp.Trace {
		for _, reason := range tr.Reasons {
			if reason == "fast_path: budget ≤ 3ms" {
				sawFastPathReason = true
			}
		}
	}
	assert.True(t, sawFastPathReason)
}
