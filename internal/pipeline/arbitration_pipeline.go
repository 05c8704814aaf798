package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hearthcore/hearthcore/internal/arbiter"
	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/cortex"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/uow"
)

// handleArbitration implements P12: build a DecisionFrame from the
// latest workspace/cortex/affect/belief/prospective signals, run the C9
// arbiter, and publish action.decision.
func (r *Registry) handleArbitration(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var pred cortexPredictionEvent
	switch env.Topic {
	case envelope.TopicCortexPrediction:
		if err := json.Unmarshal(env.Payload, &pred); err != nil {
			return r.reject(ctx, "p12_arbitration", env, "schema_invalid: "+err.Error())
		}
	default:
		snap := r.workspace.snapshot()
		pred = cortexEventFromSnapshot(r.deps.Tier0, snap)
	}

	u, receipt, err := r.beginUoW(ctx, "p12_arbitration", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	r.workspace.mu.Lock()
	arousal := r.workspace.affectArousal
	valence := r.workspace.affectValence
	urgent := r.workspace.urgent
	wmLoad := r.workspace.beliefUncertainty
	r.workspace.mu.Unlock()

	frame := arbiter.Frame{
		SpaceID:        env.SpaceID,
		ActorID:        env.Actor.ID,
		TraceID:        env.TraceID,
		Band:           env.Band,
		Arousal:        arousal,
		Valence:        valence,
		Urgent:         urgent,
		Relevance:      pred.NeedRecall,
		GoalAlignment:  pred.NeedAction,
		ExpectedReward: pred.ExpectedReward,
		Habitability:   1 - pred.Uncertainty,
		Prosocial:      0.5,
		WorkingMemLoad: wmLoad,
		Friction:       pred.DeferValue,
		WindowScore:    1,
		Risk:           bandRisk(env.Band),
		Candidates: []arbiter.Candidate{
			{Action: "engage", Cost: 0.3, Risk: bandRisk(env.Band), Prior: pred.NeedAction},
			{Action: "defer", Cost: 0.05, Risk: 0, Prior: 1 - pred.NeedAction},
		},
	}

	decideStart := time.Now()
	decision, err := r.deps.Arbiter.Decide(ctx, frame)
	decideSeconds := time.Since(decideStart).Seconds()
	if err != nil {
		u.Rollback()
		return bus.Nack(true, err.Error())
	}

	now := r.now()
	u.StageEpisode(uow.Episode{
		Actor:   env.Actor,
		Band:    env.Band,
		Content: "decision:" + decision.ChosenAction,
		Tags:    []string{"decision"},
	}, now)

	if err := u.StageEvent(envelope.TopicActionDecision, actionDecisionEvent{
		ChosenAction: decision.ChosenAction,
		Reasons:      decision.Reasons,
		Score:        decision.Score,
		DecisionHash: decision.DecisionHash,
	}, now); err != nil {
		u.Rollback()
		return bus.Nack(false, err.Error())
	}

	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	r.deps.Metrics.DecisionLatency.Observe(decideSeconds)
	return bus.Ack()
}

func cortexEventFromSnapshot(p cortex.Predictor, snap workspaceBroadcastEvent) cortexPredictionEvent {
	pred := p.Predict(cortex.Inputs{
		RetrievalConfidence: snap.RetrievalConfidence,
		AffectArousal:       snap.AffectArousal,
		BeliefUncertainty:   snap.BeliefUncertainty,
		ProspectiveDueSoon:  snap.ProspectiveDueSoon,
		RecentEngagement:    snap.RecentEngagement,
		Urgent:              snap.Urgent,
		Band:                snap.Band,
		Margin12:            snap.Margin12,
	})
	return cortexPredictionEvent{
		NeedAction: pred.NeedAction, NeedRecall: pred.NeedRecall,
		ExpectedReward: pred.ExpectedReward, Uncertainty: pred.Uncertainty, DeferValue: pred.DeferValue,
	}
}

func bandRisk(b envelope.Band) float64 {
	switch b {
	case envelope.BandBlack:
		return 1.0
	case envelope.BandRed:
		return 0.6
	case envelope.BandAmber:
		return 0.3
	default:
		return 0.05
	}
}

// handleActionExecutionAck implements P13: record the outcome of a
// previously-decided action.
func (r *Registry) handleActionExecutionAck(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev actionExecutedEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p13_action_execution_ack", env, "schema_invalid: "+err.Error())
	}
	u, receipt, err := r.beginUoW(ctx, "p13_action_execution_ack", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	now := r.now()
	u.StageEpisode(uow.Episode{
		Actor:   env.Actor,
		Band:    env.Band,
		Content: "outcome:" + ev.Action,
		Tags:    []string{"outcome"},
	}, now)

	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleLearningOutcomes implements P14: fold the executed action's
// observed reward into the workspace's recentEngagement signal, using the
// bounded control-law update (internal/cortex.BoundedUpdate) rather than
// an unbounded gradient step. The retrieval ranker's calibration and the
// cortex predictor weights are not updated here.
func (r *Registry) handleLearningOutcomes(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev actionExecutedEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p14_learning_outcomes", env, "schema_invalid: "+err.Error())
	}
	u, receipt, err := r.beginUoW(ctx, "p14_learning_outcomes", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	confidence := 0.5
	if ev.Success {
		confidence = 0.9
	}
	r.workspace.mu.Lock()
	r.workspace.recentEngagement = cortex.BoundedUpdate(r.workspace.recentEngagement, ev.Reward, confidence, cortex.DefaultControlLawParams())
	r.workspace.mu.Unlock()

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}
