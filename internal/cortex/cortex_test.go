package cortex

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthcore/hearthcore/internal/envelope"
)

func TestLinearTier0_PredictWithinBounds(t *testing.T) {
	p := NewLinearTier0(DefaultWeights())
	pred := p.Predict(Inputs{
		RetrievalConfidence: 0.8,
		AffectArousal:       0.3,
		BeliefUncertainty:   0.1,
		ProspectiveDueSoon:  0.9,
		RecentEngagement:    0.5,
	})
	assert.GreaterOrEqual(t, pred.NeedAction, 0.0)
	assert.LessOrEqual(t, pred.NeedAction, 1.0)
	assert.GreaterOrEqual(t, pred.NeedRecall, 0.0)
	assert.LessOrEqual(t, pred.NeedRecall, 1.0)
	assert.GreaterOrEqual(t, pred.ExpectedReward, -1.0)
	assert.LessOrEqual(t, pred.ExpectedReward, 1.0)
	assert.GreaterOrEqual(t, pred.Uncertainty, 0.0)
	assert.LessOrEqual(t, pred.Uncertainty, 1.0)
}

func TestLinearTier0_HighDueSoonRaisesNeedAction(t *testing.T) {
	p := NewLinearTier0(DefaultWeights())
	low := p.Predict(Inputs{ProspectiveDueSoon: 0.0})
	high := p.Predict(Inputs{ProspectiveDueSoon: 1.0})
	assert.Greater(t, high.NeedAction, low.NeedAction)
}

func TestLinearTier0_UrgentRaisesNeedAction(t *testing.T) {
	p := NewLinearTier0(DefaultWeights())
	base := Inputs{RetrievalConfidence: 0.4, AffectArousal: 0.4, BeliefUncertainty: 0.4, ProspectiveDueSoon: 0.4, RecentEngagement: 0.4}

	calm := p.Predict(base)
	urgent := base
	urgent.Urgent = true
	got := p.Predict(urgent)
	assert.Greater(t, got.NeedAction, calm.NeedAction)
}

func TestLinearTier0_RedOrBlackBandLowersNeedAction(t *testing.T) {
	p := NewLinearTier0(DefaultWeights())
	base := Inputs{RetrievalConfidence: 0.4, AffectArousal: 0.4, BeliefUncertainty: 0.4, ProspectiveDueSoon: 0.4, RecentEngagement: 0.4, Urgent: true}

	green := p.Predict(base)

	red := base
	red.Band = envelope.BandRed
	gotRed := p.Predict(red)
	assert.Less(t, gotRed.NeedAction, green.NeedAction)

	black := base
	black.Band = envelope.BandBlack
	gotBlack := p.Predict(black)
	assert.Less(t, gotBlack.NeedAction, green.NeedAction)
}

func TestLinearTier0_NarrowMarginRaisesNeedRecall(t *testing.T) {
	p := NewLinearTier0(DefaultWeights())
	base := Inputs{RetrievalConfidence: 0.4, AffectArousal: 0.4, BeliefUncertainty: 0.4, ProspectiveDueSoon: 0.4, RecentEngagement: 0.4, Margin12: 1.0}

	wide := p.Predict(base)
	narrow := base
	narrow.Margin12 = 0.01
	got := p.Predict(narrow)
	assert.Greater(t, got.NeedRecall, wide.NeedRecall)
}

func TestEntropy_ExtremesAreZero(t *testing.T) {
	assert.Equal(t, 0.0, entropy(0))
	assert.Equal(t, 0.0, entropy(1))
	assert.Greater(t, entropy(0.5), 0.9)
}

func TestMLPTier1_Predict(t *testing.T) {
	m := &MLPTier1{
		W1: [][]float64{{0.1, 0.1, 0.1, 0.1, 0.1}, {0.2, 0.0, 0.0, 0.0, 0.0}},
		B1: []float64{0, 0},
		W2: [][]float64{{0.5, 0.5}, {0.3, -0.3}, {0.1, 0.1}},
		B2: []float64{0, 0, 0},
	}
	pred := m.Predict(Inputs{RetrievalConfidence: 0.5, AffectArousal: 0.2, BeliefUncertainty: 0.1, ProspectiveDueSoon: 0.4, RecentEngagement: 0.3})
	assert.GreaterOrEqual(t, pred.NeedAction, 0.0)
	assert.LessOrEqual(t, pred.NeedAction, 1.0)
}

func TestBoundedUpdate_ClampsToUnitRange(t *testing.T) {
	p := DefaultControlLawParams()
	assert.Equal(t, 1.0, BoundedUpdate(0.95, 1.0, 1.0, p))
	assert.Equal(t, 0.0, BoundedUpdate(0.05, -1.0, 0.0, p))
}

func TestBoundedUpdate_PositiveSignalIncreases(t *testing.T) {
	p := DefaultControlLawParams()
	next := BoundedUpdate(0.5, 0.3, 0.9, p)
	assert.Greater(t, next, 0.5)
}

func TestMergeWeighted_ZeroSamplesReturnsEstablished(t *testing.T) {
	got := MergeWeighted(0.7, 0.2, 0, 0, 0.5)
	assert.Equal(t, 0.7, got)
}

func TestMergeWeighted_LargeFreshBatchPullsToward(t *testing.T) {
	got := MergeWeighted(0.2, 0.9, 10, 1000, 1.0)
	assert.InDelta(t, 0.9, got, 0.02)
}

func TestMergeWeighted_SmallFreshBatchStaysNearEstablished(t *testing.T) {
	got := MergeWeighted(0.2, 0.9, 1000, 1, 1.0)
	assert.InDelta(t, 0.2, got, 0.01)
}
