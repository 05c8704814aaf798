package pipeline

import (
	"encoding/json"

	"github.com/hearthcore/hearthcore/internal/envelope"
)

// rejectPayload is the body of a pipeline.reject envelope.
type rejectPayload struct {
	Pipeline string `json:"pipeline"`
	EventID  string `json:"event_id"`
	Reason   string `json:"reason"`
}

func mustMarshalReject(pipelineName, eventID, reason string) []byte {
	data, err := json.Marshal(rejectPayload{Pipeline: pipelineName, EventID: eventID, Reason: reason})
	if err != nil {
		return []byte(`{"pipeline":"` + pipelineName + `","reason":"marshal error"}`)
	}
	return data
}

// ingressRequest is P01's input: a raw write request before redaction.
type ingressRequest struct {
	ActorID string   `json:"actor_id"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// hippoEncodeEvent is P01's output / P02's input: a redacted episode
// ready for DG/CA3/CA1 encoding.
type hippoEncodeEvent struct {
	EpisodeID string   `json:"episode_id"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
}

// rollupApplyEvent is P03's output / P04's input: a derived episode
// summarizing a set of source episodes.
type rollupApplyEvent struct {
	Summary      string   `json:"summary"`
	DerivedFrom  []string `json:"derived_from"`
	Tags         []string `json:"tags,omitempty"`
}

// retrievalRequestEvent is P05's input.
type retrievalRequestEvent struct {
	Query        string `json:"query"`
	ActorID      string `json:"actor_id"`
	K            int    `json:"k"`
	TimeBudgetMS int64  `json:"time_budget_ms"`
}

// retrievalResponseEvent is P05's output / P10's and P16's input.
type retrievalResponseEvent struct {
	Query     string    `json:"query"`
	ResultIDs []string  `json:"result_ids"`
	Scores    []float64 `json:"scores"`
	Margin12  float64   `json:"margin12"`
}

// attentionAdmissionEvent is P06's input. Kind classifies what the
// candidate would route to if admitted or deferred — one of "action",
// "recall", "meta", or "" (treated as ignore); the gate still decides
// ADMIT/DEFER/DROP purely from the salience features below, Kind only
// labels the routing hint carried alongside that decision.
type attentionAdmissionEvent struct {
	EpisodeID        string  `json:"episode_id"`
	Kind             string  `json:"kind,omitempty"`
	Novelty          float64 `json:"novelty"`
	AffectArousal    float64 `json:"affect_arousal"`
	UrgencyTag       float64 `json:"urgency_tag"`
	ActorPriority    float64 `json:"actor_priority"`
	RecencyOfRelated float64 `json:"recency_of_related"`
}

// affectAnnotatedEvent is P07's input / P12's input.
type affectAnnotatedEvent struct {
	Arousal float64 `json:"arousal"`
	Valence float64 `json:"valence"`
	Urgent  bool    `json:"urgent"`
}

// beliefUpdateEvent is P08's input / P12's input.
type beliefUpdateEvent struct {
	Key   string  `json:"key"`
	Value string  `json:"value"`
	Delta float64 `json:"delta"`
}

// workspaceBroadcastEvent is P09's output / P10's input.
type workspaceBroadcastEvent struct {
	RetrievalConfidence float64       `json:"retrieval_confidence"`
	AffectArousal       float64       `json:"affect_arousal"`
	BeliefUncertainty   float64       `json:"belief_uncertainty"`
	ProspectiveDueSoon  float64       `json:"prospective_due_soon"`
	RecentEngagement    float64       `json:"recent_engagement"`
	Urgent              bool          `json:"urgent"`
	Band                envelope.Band `json:"band"`
	Margin12            float64       `json:"margin12"`
}

// cortexPredictionEvent is P10's output / P12's input.
type cortexPredictionEvent struct {
	NeedAction     float64 `json:"need_action"`
	NeedRecall     float64 `json:"need_recall"`
	ExpectedReward float64 `json:"expected_reward"`
	Uncertainty    float64 `json:"uncertainty"`
	DeferValue     float64 `json:"defer_value"`
}

// prospectiveTriggerEvent is P11's input / P12's input: a due reminder.
type prospectiveTriggerEvent struct {
	ReminderID string  `json:"reminder_id"`
	DueScore   float64 `json:"due_score"`
}

// actionDecisionEvent is P12's output.
type actionDecisionEvent struct {
	ChosenAction string   `json:"chosen_action"`
	Reasons      []string `json:"reasons"`
	Score        float64  `json:"score"`
	DecisionHash string   `json:"decision_hash"`
}

// actionExecutedEvent is P13/P14/P15's input: the outcome of a
// previously-decided action.
type actionExecutedEvent struct {
	DecisionID string `json:"decision_id"`
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Reward     float64 `json:"reward"`
	EpisodeID  string  `json:"episode_id,omitempty"`
}
