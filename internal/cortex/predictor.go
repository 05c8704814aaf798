// Package cortex implements the mental-state predictor (spec.md §4.8): a
// Tier-0 linear+rules head, an optional Tier-1 model, and a bounded
// calibration update. The calibration formulas are adapted, not copied,
// from the teacher's control-law mutation-rate update
// (escalation/camouflage.go) and the federated weighted-trust blend
// (gossip/federated_baseline.go) — repurposed from anomaly-response and
// cross-node trust blending to bounded-rate calibration nudging and
// cross-time-window calibration merging respectively.
package cortex

import (
	"math"

	"github.com/hearthcore/hearthcore/internal/envelope"
)

// Inputs are the workspace features the Tier-0 head consumes.
type Inputs struct {
	RetrievalConfidence float64
	AffectArousal       float64
	BeliefUncertainty   float64
	ProspectiveDueSoon  float64
	RecentEngagement    float64

	// Urgent, Band, and Margin12 drive the explicit Tier-0 rules on top
	// of the linear logits: urgent raises z_a, a RED/BLACK band lowers
	// it, and a narrow retrieval margin raises z_r.
	Urgent   bool
	Band     envelope.Band
	Margin12 float64
}

// Weights parameterize the two logistic heads and the reward regression.
type Weights struct {
	NeedAction   [5]float64
	NeedRecall   [5]float64
	ExpectedReward [5]float64
}

// DefaultWeights gives each head a mild lean toward its most
// domain-relevant input.
func DefaultWeights() Weights {
	return Weights{
		NeedAction:     [5]float64{0.1, 0.2, 0.1, 0.5, 0.1},
		NeedRecall:     [5]float64{0.4, 0.1, 0.3, 0.1, 0.1},
		ExpectedReward: [5]float64{0.3, 0.1, -0.2, 0.2, 0.2},
	}
}

func dot(w [5]float64, in Inputs) float64 {
	return w[0]*in.RetrievalConfidence + w[1]*in.AffectArousal + w[2]*in.BeliefUncertainty +
		w[3]*in.ProspectiveDueSoon + w[4]*in.RecentEngagement
}

// Tier-0 rule constants (spec.md §4.8): urgent raises need_action's logit,
// a RED/BLACK band lowers it, and a margin12 below marginTau raises
// need_recall's logit.
const (
	etaUrgent = 0.6
	etaBand   = 0.5
	etaMargin = 0.4
	marginTau = 0.05
)

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// Prediction is the Tier-0 head output plus derived uncertainty/defer
// scalars (spec.md §4.8).
type Prediction struct {
	NeedAction     float64
	NeedRecall     float64
	ExpectedReward float64
	Uncertainty    float64
	DeferValue     float64
}

// Predictor is the tiny forward head; Tier1 may be nil (Tier-0 only).
type Predictor interface {
	Predict(in Inputs) Prediction
}

// LinearTier0 implements the default Tier-0 head.
type LinearTier0 struct {
	W Weights
}

func NewLinearTier0(w Weights) *LinearTier0 { return &LinearTier0{W: w} }

func (p *LinearTier0) Predict(in Inputs) Prediction {
	zAction := dot(p.W.NeedAction, in)
	if in.Urgent {
		zAction += etaUrgent
	}
	if in.Band == envelope.BandRed || in.Band == envelope.BandBlack {
		zAction -= etaBand
	}

	zRecall := dot(p.W.NeedRecall, in)
	if in.Margin12 < marginTau {
		zRecall += etaMargin
	}

	needAction := sigmoid(zAction)
	needRecall := sigmoid(zRecall)
	expectedReward := math.Tanh(dot(p.W.ExpectedReward, in))

	hA := entropy(needAction)
	hR := entropy(needRecall)
	uncertainty := 1 - (1-hA)*(1-hR)
	deferValue := uncertainty * (1 - math.Abs(expectedReward))

	return Prediction{
		NeedAction:     needAction,
		NeedRecall:     needRecall,
		ExpectedReward: expectedReward,
		Uncertainty:    uncertainty,
		DeferValue:     deferValue,
	}
}

// entropy is the binary entropy of probability p, normalized to [0,1]
// (log base 2, as in the teacher's Shannon entropy helper).
func entropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -(p*math.Log2(p) + (1-p)*math.Log2(1-p))
}

// MLPTier1 loads and evaluates an externally-provided artifact; hearthcore
// never trains one (Open Question decision, see DESIGN.md). Weights is a
// tiny single-hidden-layer MLP: in(5) -> hidden -> out(3).
type MLPTier1 struct {
	W1 [][]float64 // hidden x 5
	B1 []float64
	W2 [][]float64 // 3 x hidden
	B2 []float64
}

func (m *MLPTier1) Predict(in Inputs) Prediction {
	x := []float64{in.RetrievalConfidence, in.AffectArousal, in.BeliefUncertainty, in.ProspectiveDueSoon, in.RecentEngagement}
	hidden := make([]float64, len(m.B1))
	for i := range hidden {
		var sum float64
		for j, xv := range x {
			sum += m.W1[i][j] * xv
		}
		hidden[i] = math.Tanh(sum + m.B1[i])
	}
	out := make([]float64, len(m.B2))
	for i := range out {
		var sum float64
		for j, hv := range hidden {
			sum += m.W2[i][j] * hv
		}
		out[i] = sum + m.B2[i]
	}
	needAction := sigmoid(out[0])
	needRecall := sigmoid(out[1])
	reward := math.Tanh(out[2])
	hA, hR := entropy(needAction), entropy(needRecall)
	uncertainty := 1 - (1-hA)*(1-hR)
	return Prediction{
		NeedAction: needAction, NeedRecall: needRecall, ExpectedReward: reward,
		Uncertainty: uncertainty, DeferValue: uncertainty * (1 - math.Abs(reward)),
	}
}
