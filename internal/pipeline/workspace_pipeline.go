package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/cortex"
	"github.com/hearthcore/hearthcore/internal/envelope"
)

// workspaceState is the shared-workspace model's current contents: the
// latest affect annotation, belief deltas, retrieval confidence, and
// prospective due-score, fanned out by P09 and consumed by P10/P12.
// Bounded to one snapshot per field — spec.md's workspace is a broadcast
// blackboard, not a history.
type workspaceState struct {
	mu sync.Mutex

	retrievalConfidence float64
	affectArousal       float64
	affectValence       float64
	urgent              bool
	band                envelope.Band
	beliefUncertainty   float64
	prospectiveDueSoon  float64
	recentEngagement    float64
	margin12            float64
}

// newWorkspaceState starts margin12 at its widest value — "no low-margin
// penalty" — until the first retrieval response reports a real one.
func newWorkspaceState() *workspaceState { return &workspaceState{margin12: 1.0} }

func (w *workspaceState) snapshot() workspaceBroadcastEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return workspaceBroadcastEvent{
		RetrievalConfidence: w.retrievalConfidence,
		AffectArousal:       w.affectArousal,
		BeliefUncertainty:   w.beliefUncertainty,
		ProspectiveDueSoon:  w.prospectiveDueSoon,
		RecentEngagement:    w.recentEngagement,
		Urgent:              w.urgent,
		Band:                w.band,
		Margin12:            w.margin12,
	}
}

// handleAffectAnnotate implements P07: attach affect features to the
// workspace state.
func (r *Registry) handleAffectAnnotate(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev affectAnnotatedEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p07_affect_annotate", env, "schema_invalid: "+err.Error())
	}
	u, receipt, err := r.beginUoW(ctx, "p07_affect_annotate", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	r.workspace.mu.Lock()
	r.workspace.affectArousal = ev.Arousal
	r.workspace.affectValence = ev.Valence
	r.workspace.urgent = ev.Urgent
	r.workspace.band = env.Band
	r.workspace.mu.Unlock()

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleBeliefUpdate implements P08: merge belief deltas into the
// workspace state.
func (r *Registry) handleBeliefUpdate(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev beliefUpdateEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p08_belief_update", env, "schema_invalid: "+err.Error())
	}
	u, receipt, err := r.beginUoW(ctx, "p08_belief_update", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	r.workspace.mu.Lock()
	r.workspace.beliefUncertainty = clamp01(r.workspace.beliefUncertainty + ev.Delta)
	r.workspace.mu.Unlock()

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleWorkspaceBroadcast implements P09: fan the latest workspace
// snapshot to C8/C9 by re-publishing it (a handler-triggered broadcast
// cascade, matching spec.md's "fan latest workspace snapshot" wording).
func (r *Registry) handleWorkspaceBroadcast(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	u, receipt, err := r.beginUoW(ctx, "p09_workspace_broadcast", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	now := r.now()
	snap := r.workspace.snapshot()
	if err := u.StageEvent(envelope.TopicWorkspaceBroadcast, snap, now); err != nil {
		u.Rollback()
		return bus.Nack(false, err.Error())
	}
	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleCortexPredict implements P10: run the C8 predictor over the
// latest workspace snapshot and publish cortex.prediction.
func (r *Registry) handleCortexPredict(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var broadcast workspaceBroadcastEvent
	if env.Topic == envelope.TopicWorkspaceBroadcast {
		if err := json.Unmarshal(env.Payload, &broadcast); err != nil {
			return r.reject(ctx, "p10_cortex_predict", env, "schema_invalid: "+err.Error())
		}
	} else {
		var resp retrievalResponseEvent
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return r.reject(ctx, "p10_cortex_predict", env, "schema_invalid: "+err.Error())
		}
		r.workspace.mu.Lock()
		r.workspace.margin12 = resp.Margin12
		r.workspace.mu.Unlock()

		broadcast = r.workspace.snapshot()
		if len(resp.Scores) > 0 {
			broadcast.RetrievalConfidence = resp.Scores[0]
		}
		broadcast.Margin12 = resp.Margin12
	}

	u, receipt, err := r.beginUoW(ctx, "p10_cortex_predict", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	now := r.now()
	pred := r.deps.Tier0.Predict(cortex.Inputs{
		RetrievalConfidence: broadcast.RetrievalConfidence,
		AffectArousal:       broadcast.AffectArousal,
		BeliefUncertainty:   broadcast.BeliefUncertainty,
		ProspectiveDueSoon:  broadcast.ProspectiveDueSoon,
		RecentEngagement:    broadcast.RecentEngagement,
		Urgent:              broadcast.Urgent,
		Band:                broadcast.Band,
		Margin12:            broadcast.Margin12,
	})

	if err := u.StageEvent(envelope.TopicCortexPrediction, cortexPredictionEvent{
		NeedAction:     pred.NeedAction,
		NeedRecall:     pred.NeedRecall,
		ExpectedReward: pred.ExpectedReward,
		Uncertainty:    pred.Uncertainty,
		DeferValue:     pred.DeferValue,
	}, now); err != nil {
		u.Rollback()
		return bus.Nack(false, err.Error())
	}
	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleProspectiveTrigger implements P11: evaluate a due reminder and
// feed its due-score into the workspace state for P12 to pick up.
func (r *Registry) handleProspectiveTrigger(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev prospectiveTriggerEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p11_prospective_trigger", env, "schema_invalid: "+err.Error())
	}
	u, receipt, err := r.beginUoW(ctx, "p11_prospective_trigger", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	r.workspace.mu.Lock()
	r.workspace.prospectiveDueSoon = clamp01(ev.DueScore)
	r.workspace.mu.Unlock()

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
