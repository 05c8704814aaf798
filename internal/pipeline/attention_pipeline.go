package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hearthcore/hearthcore/internal/attention"
	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/uow"
)

// parseIntentKind maps the wire-level classification string onto the
// gate's Intent enum; an unrecognized or empty string defaults to ignore,
// matching the gate's own DROP->IntentIgnore convention.
func parseIntentKind(kind string) attention.Intent {
	switch kind {
	case "action":
		return attention.IntentAction
	case "recall":
		return attention.IntentRecall
	case "meta":
		return attention.IntentMeta
	default:
		return attention.IntentIgnore
	}
}

// handleAttentionAdmission implements P06: run the C6 gate and route the
// resulting intent tag via the episode's tags.
func (r *Registry) handleAttentionAdmission(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var ev attentionAdmissionEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return r.reject(ctx, "p06_attention_admission", env, "schema_invalid: "+err.Error())
	}

	u, receipt, err := r.beginUoW(ctx, "p06_attention_admission", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	result := r.deps.AttentionGate.Admit(attention.Candidate{
		Novelty:          ev.Novelty,
		AffectArousal:    ev.AffectArousal,
		UrgencyTag:       ev.UrgencyTag,
		ActorPriority:    ev.ActorPriority,
		RecencyOfRelated: ev.RecencyOfRelated,
		Kind:             parseIntentKind(ev.Kind),
	})
	r.deps.Metrics.AttentionDecisionsTotal.WithLabelValues(result.Decision.String()).Inc()

	if result.Decision != attention.DecisionDrop && ev.EpisodeID != "" {
		var episode uow.Episode
		found, getErr := r.deps.KV.GetEpisode(ev.EpisodeID, &episode)
		if getErr != nil {
			u.Rollback()
			return bus.Nack(true, getErr.Error())
		}
		if found {
			episode.Tags = append(episode.Tags,
				"intent:"+result.Intent.String(),
				"attention:"+result.Decision.String())
			if result.Priority == attention.PriorityBoosted {
				episode.Tags = append(episode.Tags, "priority:boosted")
			}
			u.StageEpisode(episode, r.now())
		}
		r.deps.Metrics.AttentionIntentRoutedTotal.WithLabelValues(result.Intent.String(), result.Priority.String()).Inc()
	}

	if _, err := u.Commit(r.now()); err != nil {
		return bus.Nack(true, err.Error())
	}
	return bus.Ack()
}
