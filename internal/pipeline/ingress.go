package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/hippocampus"
	"github.com/hearthcore/hearthcore/internal/retrieval"
	"github.com/hearthcore/hearthcore/internal/uow"
)

// handleIngressWrite implements P01: redact -> policy gate -> UoW commit
// -> publish hippo.encode.
func (r *Registry) handleIngressWrite(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var req ingressRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return r.reject(ctx, "p01_ingress_write", env, "schema_invalid: "+err.Error())
	}

	u, receipt, err := r.beginUoW(ctx, "p01_ingress_write", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	redacted, err := r.deps.Redactor.Redact(ctx, req.Content, req.Tags)
	if err != nil {
		return bus.Nack(true, err.Error())
	}

	if allow, reason, err := r.deps.Evaluator.Evaluate(ctx, req.ActorID, env.SpaceID, "ingress_write"); err != nil {
		return bus.Nack(true, err.Error())
	} else if !allow {
		return r.reject(ctx, "p01_ingress_write", env, "policy_denied: "+reason)
	}

	now := r.now()
	episode := u.StageEpisode(uow.Episode{
		Actor:   env.Actor,
		Band:    env.Band,
		Tags:    req.Tags,
		Content: redacted,
	}, now)

	if err := u.StageEvent(envelope.TopicHippoEncode, hippoEncodeEvent{
		EpisodeID: episode.ID,
		Content:   redacted,
		Tags:      req.Tags,
	}, now); err != nil {
		u.Rollback()
		return bus.Nack(false, err.Error())
	}

	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleHippoEncode implements P02: DG/CA3/CA1 encode plus a
// consolidation-candidate write.
func (r *Registry) handleHippoEncode(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev hippoEncodeEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p02_hippo_encode", env, "schema_invalid: "+err.Error())
	}

	u, receipt, err := r.beginUoW(ctx, "p02_hippo_encode", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	code := r.deps.Separator.Encode(retrieval.Tokenize(ev.Content), ev.Tags)
	r.deps.Completer.Store(ev.EpisodeID, code)
	r.deps.Bridge.Register(ev.EpisodeID, ev.Content, ev.Tags)

	importance := hippocampus.Importance(0, bandWeight(env.Band), ev.Tags)
	_ = importance // not staged here; the consolidation sweep (P03) recomputes scores from stored episodes

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleRollupApply implements P04: commit a derived episode carrying
// derived_from.
func (r *Registry) handleRollupApply(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev rollupApplyEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p04_rollup_apply", env, "schema_invalid: "+err.Error())
	}

	u, receipt, err := r.beginUoW(ctx, "p04_rollup_apply", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	now := r.now()
	u.StageEpisode(uow.Episode{
		Actor:       env.Actor,
		Band:        env.Band,
		Tags:        ev.Tags,
		Content:     ev.Summary,
		Summary:     ev.Summary,
		DerivedFrom: ev.DerivedFrom,
	}, now)

	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	r.deps.Log.Info("rollup applied", zap.Int("sources", len(ev.DerivedFrom)))
	return bus.Ack()
}

func bandWeight(b envelope.Band) float64 {
	switch b {
	case envelope.BandBlack:
		return 1.0
	case envelope.BandRed:
		return 0.75
	case envelope.BandAmber:
		return 0.4
	default:
		return 0.1
	}
}
