package arbiter

import (
	"context"
	"fmt"
	"sort"

	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/policy"
)

// Arbiter synthesizes DecisionFrames deterministically; it never performs
// side effects itself (spec.md §4.9).
type Arbiter struct {
	weights   Weights
	evaluator policy.PolicyEvaluator
	ids       *idgen.Source
	clock     policy.Clock
	audit     *auditChain
}

// New builds an Arbiter. strict enables audit panic-on-violation, intended
// for test harnesses only.
func New(w Weights, evaluator policy.PolicyEvaluator, ids *idgen.Source, clock policy.Clock, strict bool) *Arbiter {
	if evaluator == nil {
		evaluator = policy.NoopPolicyEvaluator{}
	}
	if clock == nil {
		clock = policy.SystemClock{}
	}
	return &Arbiter{weights: w, evaluator: evaluator, ids: ids, clock: clock, audit: newAuditChain(strict)}
}

// Decide gates every candidate, scores the survivors, breaks ties, and
// hash-chains the resulting DecisionFrame. If every candidate is blocked,
// a no-op decision is returned with the blocking reasons for
// auditability, per spec.md §4.9.
func (a *Arbiter) Decide(ctx context.Context, f Frame) (ActionDecision, error) {
	now := a.clock.Now()

	type scored struct {
		c        Candidate
		score    float64
		verdict  GateVerdict
		reason   string
	}

	scoredCandidates := make([]scored, 0, len(f.Candidates))
	var reasons []string
	for _, c := range f.Candidates {
		verdict, reason := Gate(ctx, f, c, a.evaluator)
		if verdict == GateBlock {
			if reason != "" {
				reasons = append(reasons, reason)
			}
			continue
		}
		u := Utility(f, c, a.weights)
		scoredCandidates = append(scoredCandidates, scored{c: c, score: u, verdict: verdict, reason: reason})
	}

	sort.Slice(scoredCandidates, func(i, j int) bool {
		si, sj := scoredCandidates[i], scoredCandidates[j]
		if si.score != sj.score {
			return si.score > sj.score
		}
		if si.c.Cost != sj.c.Cost {
			return si.c.Cost < sj.c.Cost
		}
		if si.c.Risk != sj.c.Risk {
			return si.c.Risk < sj.c.Risk
		}
		if si.c.Prior != sj.c.Prior {
			return si.c.Prior > sj.c.Prior
		}
		return si.c.Action < sj.c.Action
	})

	decisionID := ""
	if a.ids != nil {
		decisionID = a.ids.NewID(now).String()
	}

	if len(scoredCandidates) == 0 {
		inputs := map[string]float64{"relevance": f.Relevance, "risk": f.Risk}
		hash, parent, err := a.audit.chain(f.SpaceID, now, 0, "noop", inputs)
		if err != nil {
			return ActionDecision{}, err
		}
		if len(reasons) == 0 {
			reasons = []string{"no admissible candidates"}
		}
		return ActionDecision{
			DecisionID:   decisionID,
			ChosenAction: "noop",
			Reasons:      reasons,
			Band:         f.Band,
			TraceID:      f.TraceID,
			DecisionHash: hash,
			ParentHash:   parent,
		}, nil
	}

	best := scoredCandidates[0]
	chosenAction := best.c.Action
	if best.verdict == GateRequireConfirm {
		reasons = append(reasons, fmt.Sprintf("%q requires confirm: %s", best.c.Action, best.reason))
		chosenAction = "confirm"
	}

	alternates := make([]Alternate, 0, len(scoredCandidates)-1)
	for _, s := range scoredCandidates[1:] {
		alternates = append(alternates, Alternate{Action: s.c.Action, Args: s.c.Args, Score: s.score})
	}

	inputs := map[string]float64{"relevance": f.Relevance, "risk": best.c.Risk, "cost": best.c.Cost}
	hash, parent, err := a.audit.chain(f.SpaceID, now, best.score, chosenAction, inputs)
	if err != nil {
		return ActionDecision{}, err
	}

	return ActionDecision{
		DecisionID:   decisionID,
		ChosenAction: chosenAction,
		ChosenArgs:   best.c.Args,
		Alternates:   alternates,
		Score:        best.score,
		Reasons:      reasons,
		Band:         f.Band,
		TraceID:      f.TraceID,
		DecisionHash: hash,
		ParentHash:   parent,
	}, nil
}
