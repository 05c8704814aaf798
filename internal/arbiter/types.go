// Package arbiter synthesizes a DecisionFrame from the latest workspace
// state (spec.md §4.9): a deterministic linear-utility selection over
// candidate actions, a pre-utility risk gate, a bounded forward-search
// planner, and a hash-chained audit trail for explainability.
package arbiter

import "github.com/hearthcore/hearthcore/internal/envelope"

// Frame is the synthesized workspace snapshot the arbiter decides over.
type Frame struct {
	SpaceID      string
	ActorID      string
	TraceID      string
	Band         envelope.Band
	Arousal      float64
	Valence      float64
	Urgent       bool
	MinorPresent bool
	ConflictHint bool

	Relevance       float64
	GoalAlignment   float64
	ExpectedReward  float64
	Habitability    float64
	Prosocial       float64
	Cost            float64
	WorkingMemLoad  float64
	Friction        float64
	WindowScore     float64
	Risk            float64

	Candidates []Candidate
}

// Candidate is one action under consideration.
type Candidate struct {
	Action      string
	Args        map[string]string
	Cost        float64
	Risk        float64
	Prior       float64
	SharingClass bool
	Schema      *ActionSchema
}

// ActionSchema describes an action's preconditions/effects for the tiny
// planner (spec.md §4.9's "action schema {preconditions, effects, cost,
// caps}").
type ActionSchema struct {
	Preconditions []string
	Effects       []string
	Cost          float64
	Caps          []string
}

// Alternate is a non-chosen candidate kept for explainability/confirm flows.
type Alternate struct {
	Action string
	Args   map[string]string
	Score  float64
	Reason string
}

// ActionDecision is the published arbiter output (spec.md §4.9).
type ActionDecision struct {
	DecisionID string
	ChosenAction string
	ChosenArgs   map[string]string
	Alternates   []Alternate
	Score        float64
	Reasons      []string
	Band         envelope.Band
	TraceID      string
	DecisionHash string
	ParentHash   string
}
