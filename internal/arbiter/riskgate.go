package arbiter

import (
	"context"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/policy"
)

// GateVerdict is the risk gate's disposition for one candidate, decided
// before utility is ever computed (generalized from the teacher's
// checkParameterBounds reject-before-score ordering).
type GateVerdict int

const (
	GatePermit GateVerdict = iota
	GateBlock
	GateRequireConfirm
)

// arousalConfirmThreshold and friends are spec.md §4.9's risk gate
// constants.
const arousalConfirmThreshold = 0.85

// Gate applies the hard pre-utility rules (spec.md §4.9): BLACK always
// blocks; RED with a minor present or a conflict hint blocks; AMBER with
// high arousal over a sharing-class action requires confirmation; and the
// injected policy evaluator has final say.
func Gate(ctx context.Context, f Frame, c Candidate, evaluator policy.PolicyEvaluator) (GateVerdict, string) {
	if f.Band == envelope.BandBlack {
		return GateBlock, "band=BLACK -> block"
	}
	if f.Band == envelope.BandRed && (f.MinorPresent || f.ConflictHint) {
		return GateBlock, "band=RED ∧ minor_present|conflict_hint -> block"
	}
	if f.Band == envelope.BandAmber && f.Arousal >= arousalConfirmThreshold && c.SharingClass {
		return GateRequireConfirm, "band=AMBER ∧ arousal>=0.85 ∧ sharing-class -> require-confirm"
	}
	if evaluator != nil {
		ok, reason, err := evaluator.Evaluate(ctx, f.ActorID, f.SpaceID, c.Action)
		if err != nil {
			return GateBlock, "policy evaluator error: " + err.Error()
		}
		if !ok {
			return GateBlock, "policy denied: " + reason
		}
	}
	return GatePermit, ""
}
