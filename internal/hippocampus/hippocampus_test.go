package hippocampus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeparator_DistinctInputsDivergeInCode(t *testing.T) {
	sep := NewSeparator(256)
	a := sep.Encode([]string{"dog", "park", "morning"}, nil)
	b := sep.Encode([]string{"soup", "recipe", "dinner"}, nil)
	assert.Greater(t, HammingDistance(a, b), 0)
}

func TestCompleter_RecallWithinTau(t *testing.T) {
	sep := NewSeparator(256)
	completer := NewCompleter()

	code1 := sep.Encode([]string{"dog", "park"}, []string{"outdoor"})
	code2 := sep.Encode([]string{"dog", "park", "fetch"}, []string{"outdoor"})
	completer.Store("ep-1", code1)
	completer.Store("ep-2", code2)

	results := completer.Recall(code1, 10, 5)
	assert.NotEmpty(t, results)
	ids := make([]string, 0)
	for _, r := range results {
		ids = append(ids, r.EpisodeID)
	}
	assert.Contains(t, ids, "ep-1")
}

func TestCompleter_RemoveExcludesFromRecall(t *testing.T) {
	sep := NewSeparator(256)
	completer := NewCompleter()
	code := sep.Encode([]string{"a", "b"}, nil)
	completer.Store("ep-x", code)
	completer.Remove("ep-x")

	results := completer.Recall(code, 256, 5)
	for _, r := range results {
		assert.NotEqual(t, "ep-x", r.EpisodeID)
	}
}

func TestAdaptivePeriod_ShrinksUnderBacklog(t *testing.T) {
	base := 10 * time.Minute
	min := 1 * time.Minute
	noLoad := AdaptivePeriod(base, min, 0, 100)
	fullLoad := AdaptivePeriod(base, min, 100, 100)
	assert.Equal(t, base, noLoad)
	assert.Equal(t, min, fullLoad)
}

func TestImportance_MilestoneTagBoosts(t *testing.T) {
	plain := Importance(0.2, 0.2, nil)
	milestone := Importance(0.2, 0.2, []string{"milestone"})
	assert.Greater(t, milestone, plain)
}
