package arbiter

import (
	"math"

	"github.com/hearthcore/hearthcore/internal/envelope"
)

// Weights are the linear utility coefficients (spec.md §4.9 defaults).
type Weights struct {
	Relevance      float64
	GoalAlignment  float64
	ExpectedReward float64
	Habitability   float64
	Prosocial      float64
	Cost           float64
	WMLoad         float64
	Friction       float64
}

func DefaultWeights() Weights {
	return Weights{
		Relevance:      1.0,
		GoalAlignment:  0.9,
		ExpectedReward: 0.8,
		Habitability:   0.3,
		Prosocial:      0.2,
		Cost:           0.7,
		WMLoad:         0.4,
		Friction:       0.3,
	}
}

const riskLambda = 0.8

// Utility computes the risk-adjusted linear utility for one candidate
// within frame f, exactly per spec.md §4.9:
//
//	U = wr*relevance + wg*goal_alignment + we*expected_reward +
//	    wh*habitability + wp*prosocial - wc*cost - wl*wm_load - wf*friction
//	affect nudge, timing factor, then U' = U - lambda*risk.
func Utility(f Frame, c Candidate, w Weights) float64 {
	u := w.Relevance*f.Relevance + w.GoalAlignment*f.GoalAlignment + w.ExpectedReward*f.ExpectedReward +
		w.Habitability*f.Habitability + w.Prosocial*f.Prosocial -
		w.Cost*c.Cost - w.WMLoad*f.WorkingMemLoad - w.Friction*f.Friction

	if f.Urgent {
		u += 0.2 * f.Arousal
	}
	if f.Valence < 0 && f.Band >= envelope.BandAmber {
		u -= 0.2 * math.Abs(f.Valence)
	}

	u *= 0.5 + 0.5*f.WindowScore

	u -= riskLambda * c.Risk
	return u
}
