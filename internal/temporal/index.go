// Package temporal implements the multi-resolution temporal index
// (spec.md §4.4): a roaring-bitmap level index over (level, bucket) keys,
// a recency/phase feature extractor, and a closed-set natural-language
// range parser.
//
// Grounded on github.com/RoaringBitmap/roaring/v2, the bitmap library
// carried by AKJUS-bsc-erigon in the retrieved corpus; the recency-decay
// formula mirrors the teacher's EWMA-style closed-form smoothing
// (escalation/pressure.go) generalized to a continuous half-life function.
package temporal

import (
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Level is one resolution of the multi-resolution index.
type Level string

const (
	LevelYear       Level = "year"
	LevelISOWeek    Level = "iso_week"
	LevelDOW        Level = "dow"
	LevelHourBucket Level = "hour_bucket" // 6 four-hour slots
)

func levelBucket(level Level, t time.Time) string {
	switch level {
	case LevelYear:
		return fmt.Sprintf("%04d", t.Year())
	case LevelISOWeek:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case LevelDOW:
		return fmt.Sprintf("%d", int(t.Weekday()))
	case LevelHourBucket:
		return fmt.Sprintf("%d", t.Hour()/4)
	default:
		return ""
	}
}

// EpisodeID is the numeric identifier roaring bitmaps index on. Callers
// map their ULID episode ids to a dense uint32 id externally (e.g. via an
// id-allocation table) and back.
type EpisodeID = uint32

// Index is the in-memory level index; it is not persisted, so it starts
// empty on restart. One Index per space.
type Index struct {
	levels     map[Level]map[string]*roaring.Bitmap
	episodeTS  map[EpisodeID]time.Time
	loc        *time.Location
	halfLifeH  float64
}

// New builds an empty Index. loc is the space's configured IANA timezone;
// halfLifeHours is the recency half-life h (spec.md default 72h).
func New(loc *time.Location, halfLifeHours float64) *Index {
	if loc == nil {
		loc = time.UTC
	}
	if halfLifeHours <= 0 {
		halfLifeHours = 72
	}
	levels := make(map[Level]map[string]*roaring.Bitmap)
	for _, l := range []Level{LevelYear, LevelISOWeek, LevelDOW, LevelHourBucket} {
		levels[l] = make(map[string]*roaring.Bitmap)
	}
	return &Index{
		levels:    levels,
		episodeTS: make(map[EpisodeID]time.Time),
		loc:       loc,
		halfLifeH: halfLifeHours,
	}
}

// Index records an episode's timestamp across every resolution level.
func (idx *Index) Index(id EpisodeID, ts time.Time) {
	local := ts.In(idx.loc)
	idx.episodeTS[id] = ts
	for _, l := range []Level{LevelYear, LevelISOWeek, LevelDOW, LevelHourBucket} {
		bucket := levelBucket(l, local)
		bm, ok := idx.levels[l][bucket]
		if !ok {
			bm = roaring.New()
			idx.levels[l][bucket] = bm
		}
		bm.Add(id)
	}
}

// Remove clears an episode from every level (used on delete/tombstone).
func (idx *Index) Remove(id EpisodeID) {
	ts, ok := idx.episodeTS[id]
	if !ok {
		return
	}
	local := ts.In(idx.loc)
	for _, l := range []Level{LevelYear, LevelISOWeek, LevelDOW, LevelHourBucket} {
		bucket := levelBucket(l, local)
		if bm, ok := idx.levels[l][bucket]; ok {
			bm.Remove(id)
		}
	}
	delete(idx.episodeTS, id)
}

// Slice returns the set of episode ids whose timestamp falls in
// [from, to), by a linear scan over every indexed timestamp (the level
// bitmaps are not consulted). Day-of-week and time-of-day constraints
// are applied only via SliceFiltered.
func (idx *Index) Slice(from, to time.Time) *roaring.Bitmap {
	result := roaring.New()
	if !to.After(from) {
		return result
	}
	for id, ts := range idx.episodeTS {
		if !ts.Before(from) && ts.Before(to) {
			result.Add(id)
		}
	}
	return result
}

// SliceFiltered additionally restricts to the given days-of-week
// (time.Weekday) and hour-buckets (0-5, four-hour slots), when non-empty.
func (idx *Index) SliceFiltered(from, to time.Time, dows []time.Weekday, hourBuckets []int) *roaring.Bitmap {
	base := idx.Slice(from, to)
	if len(dows) == 0 && len(hourBuckets) == 0 {
		return base
	}
	dowSet := make(map[time.Weekday]bool, len(dows))
	for _, d := range dows {
		dowSet[d] = true
	}
	hbSet := make(map[int]bool, len(hourBuckets))
	for _, h := range hourBuckets {
		hbSet[h] = true
	}

	result := roaring.New()
	it := base.Iterator()
	for it.HasNext() {
		id := it.Next()
		ts, ok := idx.episodeTS[id]
		if !ok {
			continue
		}
		local := ts.In(idx.loc)
		if len(dowSet) > 0 && !dowSet[local.Weekday()] {
			continue
		}
		if len(hbSet) > 0 && !hbSet[local.Hour()/4] {
			continue
		}
		result.Add(id)
	}
	return result
}

// Features are the point-in-time temporal features for one episode,
// computed relative to now (spec.md §4.4).
type Features struct {
	RecencyWeight float64
	HourSin       float64
	HourCos       float64
	DOWSin        float64
	DOWCos        float64
	IsWeekend     bool
}

// RecencyWeight computes 2^(-Δt_hours/h), the closed-form half-life decay.
func (idx *Index) RecencyWeight(ts, now time.Time) float64 {
	deltaHours := now.Sub(ts).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	return math.Exp2(-deltaHours / idx.halfLifeH)
}

// ComputeFeatures returns the full temporal feature vector for an episode
// timestamp relative to now.
func (idx *Index) ComputeFeatures(ts, now time.Time) Features {
	local := ts.In(idx.loc)
	hourFrac := (float64(local.Hour()) + float64(local.Minute())/60.0) / 24.0
	dowFrac := float64(local.Weekday()) / 7.0

	return Features{
		RecencyWeight: idx.RecencyWeight(ts, now),
		HourSin:       math.Sin(2 * math.Pi * hourFrac),
		HourCos:       math.Cos(2 * math.Pi * hourFrac),
		DOWSin:        math.Sin(2 * math.Pi * dowFrac),
		DOWCos:        math.Cos(2 * math.Pi * dowFrac),
		IsWeekend:     local.Weekday() == time.Saturday || local.Weekday() == time.Sunday,
	}
}
