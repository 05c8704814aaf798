package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecencyWeight_HalfLife(t *testing.T) {
	idx := New(time.UTC, 72)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ts := now.Add(-72 * time.Hour)
	w := idx.RecencyWeight(ts, now)
	assert.InDelta(t, 0.5, w, 1e-9)
}

func TestRecencyWeight_ZeroDelta(t *testing.T) {
	idx := New(time.UTC, 72)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 1.0, idx.RecencyWeight(now, now), 1e-9)
}

func TestIndex_SliceRoundTrip(t *testing.T) {
	idx := New(time.UTC, 72)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	idx.Index(1, t1)
	idx.Index(2, t2)

	bm := idx.Slice(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, bm.Contains(1))
	assert.False(t, bm.Contains(2))
}

func TestIndex_RemoveClearsAllLevels(t *testing.T) {
	idx := New(time.UTC, 72)
	ts := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	idx.Index(5, ts)
	idx.Remove(5)

	bm := idx.Slice(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, bm.Contains(5))
}

func TestParsePhrase_Today(t *testing.T) {
	now := time.Date(2026, 7, 29, 15, 0, 0, 0, time.UTC)
	r := ParsePhrase("today", now, time.UTC)
	assert.Equal(t, 1.0, r.Confidence)
	assert.Equal(t, time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC), r.From)
	assert.Equal(t, time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), r.To)
}

func TestParsePhrase_LastNDays(t *testing.T) {
	now := time.Date(2026, 7, 29, 15, 0, 0, 0, time.UTC)
	r := ParsePhrase("last 3 days", now, time.UTC)
	assert.Greater(t, r.Confidence, 0.0)
	assert.Equal(t, time.Date(2026, 7, 26, 0, 0, 0, 0, time.UTC), r.From)
	assert.Equal(t, time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC), r.To)
}

func TestParsePhrase_Unrecognized(t *testing.T) {
	now := time.Date(2026, 7, 29, 15, 0, 0, 0, time.UTC)
	r := ParsePhrase("sometime near the solstice", now, time.UTC)
	assert.Equal(t, 0.0, r.Confidence)
}

func TestComputeFeatures_WeekendFlag(t *testing.T) {
	idx := New(time.UTC, 72)
	sat := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC) // a Saturday
	f := idx.ComputeFeatures(sat, sat)
	assert.True(t, f.IsWeekend)
}
