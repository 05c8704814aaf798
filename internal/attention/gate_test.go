package attention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmit_DecisionBoundaries(t *testing.T) {
	load := NewLoadMeter(0.0)
	load.Sample(0.0)
	g := NewGate(DefaultWeights(), DefaultThresholds(), load, nil)

	low := g.Admit(Candidate{})
	assert.Equal(t, DecisionDefer, low.Decision, "zero salience with low load defers rather than drops")
	assert.InDelta(t, 0.0, low.Salience, 1e-9)

	high := g.Admit(Candidate{Novelty: 1, AffectArousal: 1, UrgencyTag: 1, ActorPriority: 1, RecencyOfRelated: 1})
	assert.Equal(t, DecisionAdmit, high.Decision)
	assert.InDelta(t, 1.0, high.Salience, 1e-9)
}

func TestAdmit_DropsLowSalienceUnderHighLoad(t *testing.T) {
	load := NewLoadMeter(0.0)
	load.Sample(0.95)
	g := NewGate(DefaultWeights(), DefaultThresholds(), load, nil)

	res := g.Admit(Candidate{})
	assert.Equal(t, DecisionDrop, res.Decision)
	assert.Equal(t, IntentIgnore, res.Intent, "a DROPped candidate always reports ignore regardless of Kind")
}

func TestAdmit_MidRangeDefersUnderLoad(t *testing.T) {
	load := NewLoadMeter(0.0)
	load.Sample(0.85) // above LoadDeferCutoff (0.8)
	g := NewGate(DefaultWeights(), DefaultThresholds(), load, nil)

	// Salience that would ADMIT under no load should DEFER under this load.
	c := Candidate{Novelty: 1.0, AffectArousal: 0.2, UrgencyTag: 0.1, ActorPriority: 0.1, RecencyOfRelated: 0.1}
	res := g.Admit(c)
	assert.Equal(t, DecisionDefer, res.Decision)
}

func TestAdmit_BoostIsAPriorityNotADecision(t *testing.T) {
	g := NewGate(DefaultWeights(), DefaultThresholds(), nil, UrgencyBoostPolicy{Threshold: 0.8})

	c := Candidate{Novelty: 1, AffectArousal: 1, UrgencyTag: 1, ActorPriority: 1, RecencyOfRelated: 1, Kind: IntentAction}
	res := g.Admit(c)

	assert.Equal(t, DecisionAdmit, res.Decision, "BOOST never replaces ADMIT as the decision")
	assert.Equal(t, PriorityBoosted, res.Priority)
	assert.Equal(t, IntentAction, res.Intent)
}

func TestAdmit_NoBoostPolicyLeavesPriorityNormal(t *testing.T) {
	g := NewGate(DefaultWeights(), DefaultThresholds(), nil, nil)
	res := g.Admit(Candidate{Novelty: 1, AffectArousal: 1, UrgencyTag: 1, ActorPriority: 1, RecencyOfRelated: 1})
	assert.Equal(t, PriorityNormal, res.Priority)
}

func TestAdmit_ContributionsSumToSalience(t *testing.T) {
	g := NewGate(DefaultWeights(), DefaultThresholds(), nil, nil)
	res := g.Admit(Candidate{Novelty: 0.4, AffectArousal: 0.3, UrgencyTag: 0.2, ActorPriority: 0.1, RecencyOfRelated: 0.9})

	var sum float64
	for _, c := range res.Contributions {
		sum += c.Share
	}
	assert.InDelta(t, res.Salience, sum, 1e-9)
}
