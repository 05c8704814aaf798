// Package pipeline binds each of the 20 named pipelines (spec.md §4.10)
// to its trigger topic(s) and an idempotent handler. Handlers are thin:
// they validate the envelope, open a UoW keyed on
// sha256(pipeline_name|event_id), call into retrieval/temporal/
// hippocampus/cortex/arbiter as libraries, commit, and Ack/Nack per the
// bus's HandlerResult contract. Complexity lives in those components,
// not here.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

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

// Deps bundles every library the pipeline handlers call into. One Deps
// is built per process; handlers never hold their own copies of shared
// mutable state (the load meter, the idempotency ledger) outside it.
type Deps struct {
	KV         *storage.KV
	Bus        *bus.Bus
	IDs        *idgen.Source
	Clock      policy.Clock
	Redactor   policy.Redactor
	Evaluator  policy.PolicyEvaluator
	Embeddings policy.EmbeddingProvider

	Separator *hippocampus.Separator
	Completer *hippocampus.Completer
	Bridge    *hippocampus.Bridge

	Search *retrieval.Search

	AttentionGate *attention.Gate

	Tier0 cortex.Predictor

	Arbiter *arbiter.Arbiter

	Metrics *observability.Metrics
	Log     *zap.Logger

	// Location is the IANA zone temporal phrase parsing resolves
	// relative to. Defaults to UTC if nil.
	Location *time.Location
}

// Registry subscribes each pipeline's handler to its trigger topics on a
// Bus and exposes the non-topic-triggered pipelines (consolidation sweep,
// operator commands) as plain methods.
type Registry struct {
	deps Deps

	workspace *workspaceState
}

// New builds a Registry bound to deps.
func New(deps Deps) *Registry {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Registry{deps: deps, workspace: newWorkspaceState()}
}

// pipelineSpec is one row of the P01..P20 table: a name, the topics that
// trigger it, and the consumer-group name bus.Subscribe registers it
// under (one group per pipeline, per spec.md §4.10's 20 named groups).
type pipelineSpec struct {
	name   string
	group  string
	topics []envelope.Topic
	fn     func(ctx context.Context, r *Registry, env *envelope.Envelope) bus.HandlerResult
}

func (r *Registry) specs() []pipelineSpec {
	return []pipelineSpec{
		{"p01_ingress_write", "p01", []envelope.Topic{envelope.TopicIngressRequest}, (*Registry).handleIngressWrite},
		{"p02_hippo_encode", "p02", []envelope.Topic{envelope.TopicHippoEncode}, (*Registry).handleHippoEncode},
		{"p04_rollup_apply", "p04", []envelope.Topic{envelope.TopicRollupApply}, (*Registry).handleRollupApply},
		{"p05_retrieval_request", "p05", []envelope.Topic{envelope.TopicRetrievalRequest}, (*Registry).handleRetrievalRequest},
		{"p06_attention_admission", "p06", []envelope.Topic{envelope.TopicAttentionAdmission}, (*Registry).handleAttentionAdmission},
		{"p07_affect_annotate", "p07", []envelope.Topic{envelope.TopicAffectAnnotated}, (*Registry).handleAffectAnnotate},
		{"p08_belief_update", "p08", []envelope.Topic{envelope.TopicBeliefUpdate}, (*Registry).handleBeliefUpdate},
		{"p09_workspace_broadcast", "p09", []envelope.Topic{envelope.TopicWorkspaceBroadcast}, (*Registry).handleWorkspaceBroadcast},
		{"p10_cortex_predict", "p10", []envelope.Topic{envelope.TopicWorkspaceBroadcast, envelope.TopicRetrievalResponse}, (*Registry).handleCortexPredict},
		{"p11_prospective_trigger", "p11", []envelope.Topic{envelope.TopicProspectiveTrigger}, (*Registry).handleProspectiveTrigger},
		{"p12_arbitration", "p12", []envelope.Topic{envelope.TopicCortexPrediction, envelope.TopicAffectAnnotated, envelope.TopicBeliefUpdate, envelope.TopicProspectiveTrigger}, (*Registry).handleArbitration},
		{"p13_action_execution_ack", "p13", []envelope.Topic{envelope.TopicActionExecuted}, (*Registry).handleActionExecutionAck},
		{"p14_learning_outcomes", "p14", []envelope.Topic{envelope.TopicActionExecuted}, (*Registry).handleLearningOutcomes},
		{"p15_tombstone_apply", "p15", tombstoneTopics(), (*Registry).handleTombstoneApply},
		{"p16_audit_access", "p16", auditedTopics(), (*Registry).handleAuditAccess},
		{"p20_pipeline_reject_sink", "p20", []envelope.Topic{envelope.TopicPipelineReject}, (*Registry).handlePipelineRejectSink},
	}
}

// tombstoneTopics returns the topics P15 subscribes to enforce
// TOMBSTONE_ON_DELETE. Any envelope may carry the obligation, but delete
// intents arrive on rollup.apply and action.executed in this system.
func tombstoneTopics() []envelope.Topic {
	return []envelope.Topic{envelope.TopicRollupApply, envelope.TopicActionExecuted}
}

// auditedTopics returns the topics P16 subscribes to enforce
// AUDIT_ACCESS — every envelope that can carry sensitive content.
func auditedTopics() []envelope.Topic {
	return []envelope.Topic{envelope.TopicRetrievalResponse, envelope.TopicActionDecision}
}

// RegisterAll subscribes every topic-triggered pipeline to the Bus. Each
// (topic, group) pair gets its own bus.Subscribe call so independent
// pipelines never share offsets.
func (r *Registry) RegisterAll() error {
	for _, spec := range r.specs() {
		spec := spec
		for _, topic := range spec.topics {
			if err := r.deps.Bus.Subscribe(topic, spec.group, func(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
				return spec.fn(ctx, r, env)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// idemKey derives the UoW idempotency key from the pipeline name and
// event id, per spec.md §4.10 step 2.
func idemKey(pipelineName string, eventID string) string {
	h := sha256.Sum256([]byte(pipelineName + "|" + eventID))
	return hex.EncodeToString(h[:])
}

// beginUoW opens a UoW for one handler invocation, short-circuiting to an
// already-committed receipt on replay.
func (r *Registry) beginUoW(ctx context.Context, pipelineName string, env *envelope.Envelope) (*uow.UnitOfWork, *uow.Receipt, error) {
	key := idemKey(pipelineName, env.EventID.String())
	return uow.Begin(ctx, r.deps.KV, r.deps.IDs, env.Actor.ID, env.SpaceID, key)
}

// reject publishes a pipeline.reject envelope for a non-recoverable
// failure and acks the original record (spec.md §4.10 step 5): policy
// denials and schema violations must not retry forever.
func (r *Registry) reject(ctx context.Context, pipelineName string, env *envelope.Envelope, reason string) bus.HandlerResult {
	rejectEnv := &envelope.Envelope{
		EventID:   r.deps.IDs.NewID(r.now()),
		Topic:     envelope.TopicPipelineReject,
		SpaceID:   env.SpaceID,
		Actor:     envelope.ActorRef{Kind: "system", ID: "pipeline." + pipelineName},
		Band:      env.Band,
		TraceID:   env.TraceID,
		Timestamp: r.now(),
		Payload:   mustMarshalReject(pipelineName, env.EventID.String(), reason),
	}
	if _, err := r.deps.Bus.Publish(ctx, rejectEnv); err != nil {
		r.deps.Log.Warn("pipeline.reject publish failed", zap.String("pipeline", pipelineName), zap.Error(err))
	}
	r.deps.Metrics.DecisionsBlockedTotal.WithLabelValues(reason).Inc()
	return bus.Ack()
}

func (r *Registry) now() time.Time {
	if r.deps.Clock != nil {
		return r.deps.Clock.Now()
	}
	return time.Now().UTC()
}
