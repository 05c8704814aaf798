package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/storage"
	"github.com/hearthcore/hearthcore/internal/uow"
)

// handleTombstoneApply implements P15: enforce the TOMBSTONE_ON_DELETE
// obligation on any envelope that carries it.
func (r *Registry) handleTombstoneApply(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	if !env.HasObligation(envelope.ObligationTombstoneOnDelete) {
		return bus.Ack()
	}

	u, receipt, err := r.beginUoW(ctx, "p15_tombstone_apply", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	var ev actionExecutedEvent
	if env.Topic == envelope.TopicActionExecuted {
		if err := json.Unmarshal(env.Payload, &ev); err == nil && ev.EpisodeID != "" {
			var episode uow.Episode
			found, getErr := r.deps.KV.GetEpisode(ev.EpisodeID, &episode)
			if getErr != nil {
				u.Rollback()
				return bus.Nack(true, getErr.Error())
			}
			if found {
				episode.Tombstoned = true
				u.StageEpisode(episode, r.now())
				r.deps.Completer.Remove(ev.EpisodeID)
			}
		}
	}

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handleAuditAccess implements P16: enforce the AUDIT_ACCESS obligation
// by writing a receipt-linked audit episode for any envelope that
// carries it.
func (r *Registry) handleAuditAccess(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	if !env.HasObligation(envelope.ObligationAuditAccess) {
		return bus.Ack()
	}

	u, receipt, err := r.beginUoW(ctx, "p16_audit_access", env)
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
		Content: "audit_access:" + string(env.Topic) + ":" + env.EventID.String(),
		Tags:    []string{"audit_access"},
	}, now)

	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}

// handlePipelineRejectSink implements P20: the terminal sink for
// pipeline.reject events. It writes a DLQ-visible record for operator
// tooling rather than retrying — a reject is, by construction, a
// non-recoverable disposition.
func (r *Registry) handlePipelineRejectSink(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var rej rejectPayload
	if err := json.Unmarshal(env.Payload, &rej); err != nil {
		return bus.Ack()
	}

	entry := storage.DLQEntry{
		Topic:     string(env.Topic),
		Group:     "p20_pipeline_reject_sink",
		EventID:   rej.EventID,
		Reason:    rej.Reason,
		Attempts:  1,
		FirstSeen: r.now(),
		LastSeen:  r.now(),
		Envelope:  env.Payload,
	}
	if err := r.deps.KV.PutDLQ(entry); err != nil {
		return bus.Nack(true, err.Error())
	}
	r.deps.Metrics.DLQTotal.WithLabelValues(string(env.Topic), "p20_pipeline_reject_sink").Inc()
	return bus.Ack()
}
