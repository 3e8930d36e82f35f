package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/measure"
)

// horizontal fish of length 60 px centred on (cx, cy)
func det(cx, cy float64) measure.Detection {
	return measure.Detection{
		Box:        measure.Rect{X1: cx - 30, Y1: cy - 8, X2: cx + 30, Y2: cy + 8},
		Head:       measure.Point{X: cx - 30, Y: cy},
		Tail:       measure.Point{X: cx + 30, Y: cy},
		Confidence: 0.9,
	}
}

func ids(tracks []Track) []uint64 {
	out := make([]uint64, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.ID
	}
	return out
}

func newGreedy(t *testing.T) *GreedyTracker {
	t.Helper()
	return NewGreedyTracker(DefaultConfig())
}

func TestGreedy_SmoothMoverKeepsOneID(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	for f := uint64(0); f < 50; f++ {
		got := tr.Update([]measure.Detection{det(100+float64(f)*5, 200)}, f)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(1), got[0].ID, "frame %d", f)
	}
	assert.Len(t, tr.ActiveTracks(), 1)
	assert.Equal(t, 50, tr.ActiveTracks()[0].Hits)
}

func TestGreedy_TwoDistantFishTwoIDs(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	seen := map[uint64]bool{}
	for f := uint64(0); f < 20; f++ {
		got := tr.Update([]measure.Detection{
			det(100+float64(f)*2, 100),
			det(400-float64(f)*2, 300),
		}, f)
		assert.Equal(t, []uint64{1, 2}, ids(got), "frame %d", f)
		for _, g := range got {
			seen[g.ID] = true
		}
	}
	assert.Len(t, seen, 2)
}

func TestGreedy_DetectionOrderSwapDoesNotChangeIDs(t *testing.T) {
	t.Parallel()

	a0, b0 := det(100, 100), det(300, 300)
	a1, b1 := det(105, 102), det(296, 301)

	tr := newGreedy(t)
	first := tr.Update([]measure.Detection{a0, b0}, 0)
	require.Equal(t, []uint64{1, 2}, ids(first))

	// Second frame lists the fish in the opposite order.
	second := tr.Update([]measure.Detection{b1, a1}, 1)
	assert.Equal(t, []uint64{2, 1}, ids(second))
	assert.Equal(t, b1, second[0].Detection)
	assert.Equal(t, 0, second[0].DetIndex)
}

func TestGreedy_GlobalClosestPairFirst(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	tr.Update([]measure.Detection{det(100, 100)}, 0)
	tr.Update([]measure.Detection{det(200, 100)}, 0)
	// Track 1 at x=100, track 2 at x=200 (frame 0 twice is allowed).

	// A detection at x=120 is 20px from track 1 and 80px from track 2; one at
	// x=115 is closer still to track 1. Track 1 must take x=115, and x=120
	// cannot reach track 2, so it opens track 3.
	got := tr.Update([]measure.Detection{det(120, 100), det(115, 100)}, 1)
	assert.Equal(t, []uint64{3, 1}, ids(got))
}

func TestGreedy_TieBreaksByLowestTrackID(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	tr.Update([]measure.Detection{det(100, 100), det(140, 100)}, 0)

	// x=120 is exactly 20px from both tracks: lowest ID wins.
	got := tr.Update([]measure.Detection{det(120, 100)}, 1)
	assert.Equal(t, []uint64{1}, ids(got))
}

func TestGreedy_TieBreaksByDetectionOrder(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	tr.Update([]measure.Detection{det(100, 100)}, 0)

	// Both detections are 10px away from track 1; the first listed wins.
	got := tr.Update([]measure.Detection{det(90, 100), det(110, 100)}, 1)
	assert.Equal(t, []uint64{1, 2}, ids(got))
}

func TestGreedy_ThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	tr.Update([]measure.Detection{det(100, 100)}, 0)
	got := tr.Update([]measure.Detection{det(130, 100)}, 1) // exactly 30px
	assert.Equal(t, []uint64{2}, ids(got))
}

func TestGreedy_StaleTracksRetiredAndIDsNeverReused(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxMisses = 2
	tr := NewGreedyTracker(cfg)

	tr.Update([]measure.Detection{det(100, 100)}, 0)
	tr.Update(nil, 1)
	tr.Update(nil, 2)
	// Gap of 2 frames is still inside the window.
	got := tr.Update([]measure.Detection{det(100, 100)}, 2)
	assert.Equal(t, []uint64{1}, ids(got))

	// Now unseen for 3 frames: retired.
	tr.Update(nil, 5)
	assert.Empty(t, tr.ActiveTracks())
	assert.Equal(t, uint64(1), tr.Retired())

	got = tr.Update([]measure.Detection{det(100, 100)}, 6)
	assert.Equal(t, []uint64{2}, ids(got), "retired IDs are never reallocated")
}

func TestGreedy_SkippedFramesCountAsMisses(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxMisses = 2
	tr := NewGreedyTracker(cfg)

	tr.Update([]measure.Detection{det(100, 100)}, 0)
	// No Update for frames 1 and 2: the track is still 3 frames stale.
	got := tr.Update([]measure.Detection{det(100, 100)}, 3)
	assert.Equal(t, []uint64{2}, ids(got))
	assert.Equal(t, uint64(1), tr.Retired())
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].FirstFrame)
	assert.Equal(t, 1, got[0].Hits)
}

func TestGreedy_FrameRegressionClamped(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	tr.Update([]measure.Detection{det(100, 100)}, 10)
	got := tr.Update([]measure.Detection{det(102, 100)}, 3)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, uint64(10), got[0].LastSeenFrame)
}

func TestGreedy_Reset(t *testing.T) {
	t.Parallel()

	tr := newGreedy(t)
	tr.Update([]measure.Detection{det(100, 100), det(300, 300)}, 0)
	tr.Reset()
	assert.Empty(t, tr.ActiveTracks())
	got := tr.Update([]measure.Detection{det(500, 100)}, 0)
	assert.Equal(t, []uint64{1}, ids(got))
}

func TestUntracked_NumbersPerFrame(t *testing.T) {
	t.Parallel()

	var tr Tracker = NewUntracked()
	assert.Equal(t, KindUntracked, tr.Mode())

	got := tr.Update([]measure.Detection{det(100, 100), det(300, 300), det(500, 100)}, 0)
	assert.Equal(t, []uint64{1, 2, 3}, ids(got))

	// Same fish in a different order gets numbered by position, not identity.
	got = tr.Update([]measure.Detection{det(500, 100), det(100, 100)}, 1)
	assert.Equal(t, []uint64{1, 2}, ids(got))
	assert.Equal(t, 500.0-30, got[0].Head.X)
}

func TestUntracked_StatelessAcrossReset(t *testing.T) {
	t.Parallel()

	tr := NewUntracked()
	first := tr.Update([]measure.Detection{det(100, 100), det(400, 100)}, 7)
	tr.Reset()
	second := tr.Update([]measure.Detection{det(400, 100)}, 8)

	assert.Equal(t, []uint64{1, 2}, ids(first))
	assert.Equal(t, 1, first[1].DetIndex)
	assert.Equal(t, uint64(7), first[1].FirstFrame)
	assert.Equal(t, []uint64{1}, ids(second))
	assert.Equal(t, 1, second[0].Hits)
}

func TestNew(t *testing.T) {
	t.Parallel()

	tr, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, KindGreedy, tr.Mode())

	cfg := DefaultConfig()
	cfg.Kind = KindUntracked
	tr, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, KindUntracked, tr.Mode())

	cfg.Kind = ""
	tr, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, KindGreedy, tr.Mode())

	for _, bad := range []Config{
		{Kind: "sort", DistanceThreshold: 30},
		{Kind: KindGreedy, DistanceThreshold: 0},
		{Kind: KindGreedy, DistanceThreshold: 30, MaxMisses: -1},
	} {
		_, err := New(bad)
		assert.Error(t, err, "%+v", bad)
	}
}
