package arbiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/policy"
)

func baseFrame() Frame {
	return Frame{
		SpaceID:        "shared:family",
		ActorID:        "actor-1",
		TraceID:        "trace-1",
		Band:           envelope.BandGreen,
		Relevance:      0.8,
		GoalAlignment:  0.5,
		ExpectedReward: 0.3,
		WindowScore:    1.0,
		Candidates: []Candidate{
			{Action: "suggest_reply", Cost: 0.1, Risk: 0.1, Prior: 0.5},
			{Action: "noop", Cost: 0.0, Risk: 0.0, Prior: 0.1},
		},
	}
}

func TestDecide_DeterministicForSameFrame(t *testing.T) {
	f := baseFrame()
	a1 := New(DefaultWeights(), policy.NoopPolicyEvaluator{}, nil, fixedClock{t: time.Unix(100, 0)}, false)
	a2 := New(DefaultWeights(), policy.NoopPolicyEvaluator{}, nil, fixedClock{t: time.Unix(100, 0)}, false)

	d1, err := a1.Decide(context.Background(), f)
	require.NoError(t, err)
	d2, err := a2.Decide(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, d1.ChosenAction, d2.ChosenAction)
	assert.Equal(t, d1.Reasons, d2.Reasons)
	assert.Equal(t, d1.Score, d2.Score)
}

func TestDecide_RiskGateBlocksRedWithMinorPresent(t *testing.T) {
	f := baseFrame()
	f.Band = envelope.BandRed
	f.MinorPresent = true
	f.Candidates = []Candidate{{Action: "share_photo", Cost: 0.1, Risk: 0.1}}

	a := New(DefaultWeights(), policy.NoopPolicyEvaluator{}, idgen.NewSource(), policy.SystemClock{}, false)
	d, err := a.Decide(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "noop", d.ChosenAction)
	found := false
	for _, r := range d.Reasons {
		if r == "band=RED ∧ minor_present|conflict_hint -> block" {
			found = true
		}
	}
	assert.True(t, found, "expected block reason in %v", d.Reasons)
}

func TestDecide_BlackBandAlwaysBlocks(t *testing.T) {
	f := baseFrame()
	f.Band = envelope.BandBlack
	a := New(DefaultWeights(), policy.NoopPolicyEvaluator{}, nil, policy.SystemClock{}, false)
	d, err := a.Decide(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "noop", d.ChosenAction)
}

func TestDecide_AmberHighArousalSharingRequiresConfirm(t *testing.T) {
	f := baseFrame()
	f.Band = envelope.BandAmber
	f.Arousal = 0.9
	f.Candidates = []Candidate{{Action: "share_photo", SharingClass: true, Cost: 0.1, Risk: 0.1}}
	a := New(DefaultWeights(), policy.NoopPolicyEvaluator{}, nil, policy.SystemClock{}, false)
	d, err := a.Decide(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "confirm", d.ChosenAction)
}

func TestDecide_TieBreaksByLowerCostThenLowerRiskThenName(t *testing.T) {
	f := baseFrame()
	f.Candidates = []Candidate{
		{Action: "zzz", Cost: 0.1, Risk: 0.0, Prior: 0.1},
		{Action: "aaa", Cost: 0.1, Risk: 0.0, Prior: 0.1},
	}
	a := New(DefaultWeights(), policy.NoopPolicyEvaluator{}, nil, policy.SystemClock{}, false)
	d, err := a.Decide(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "aaa", d.ChosenAction)
}

func TestPlan_StopsAtMaxDepthAndBeam(t *testing.T) {
	f := baseFrame()
	path := Plan(f, DefaultWeights(), func([]Candidate) bool { return false }, func([]Candidate) float64 { return 0 })
	assert.LessOrEqual(t, len(path), plannerMaxDepth)
	assert.NotEmpty(t, path)
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }
