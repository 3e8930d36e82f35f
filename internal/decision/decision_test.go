package decision

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)

func TestFeedingTurns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fish int
		want int
	}{
		{-3, 0}, {0, 0}, {1, 1}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {6, 3}, {7, 4}, {8, 4}, {1000, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FeedingTurns(tt.fish), "FeedingTurns(%d)", tt.fish)
	}
}

func TestFeedingTurns_MonotonicAndCapped(t *testing.T) {
	t.Parallel()

	prev := 0
	for n := 0; n <= 200; n++ {
		got := FeedingTurns(n)
		require.GreaterOrEqual(t, got, prev, "not monotonic at %d", n)
		require.LessOrEqual(t, got, MaxFeedingTurns)
		prev = got
	}
}

func TestHarvestStatus(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	tests := []struct {
		avg  float64
		want HarvestStatus
	}{
		{0, StatusNotReady},
		{19.999, StatusNotReady},
		{20.0, StatusApproaching},
		{24.999, StatusApproaching},
		{25.0, StatusReady},
		{80, StatusReady},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.HarvestStatus(tt.avg), "avg %.3f", tt.avg)
	}
}

func TestHarvestStatus_ConfiguredThresholds(t *testing.T) {
	t.Parallel()

	p := Policy{ReadyCm: 12, ApproachingCm: 8}
	assert.Equal(t, StatusReady, p.HarvestStatus(12))
	assert.Equal(t, StatusApproaching, p.HarvestStatus(8))
	assert.Equal(t, StatusNotReady, p.HarvestStatus(7.9))
}

func TestAggregate_Image(t *testing.T) {
	t.Parallel()

	records := []Record{
		{RunID: "r", FishID: 1, LengthCm: 18},
		{RunID: "r", FishID: 2, LengthCm: 22},
		{RunID: "r", FishID: 3, LengthCm: 26},
	}
	got := DefaultPolicy().Aggregate("r", ModeImage, records, now)

	want := Summary{
		RunID:             "r",
		Mode:              ModeImage,
		NumFish:           3,
		MinLengthCm:       18,
		MaxLengthCm:       26,
		AvgLengthCm:       22,
		HarvestStatus:     StatusApproaching,
		FeedingTurns:      2,
		FeedingDurationMs: 1000,
		FeedingGapMs:      2000,
		CreatedAt:         now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_VideoCountsDistinctFish(t *testing.T) {
	t.Parallel()

	// 10 frames, one fish present throughout.
	var records []Record
	for f := uint64(0); f < 10; f++ {
		records = append(records, Record{RunID: "v", Frame: f, FishID: 1, LengthCm: 20 + float64(f%2)})
	}
	got := DefaultPolicy().Aggregate("v", ModeVideo, records, now)

	assert.Equal(t, 1, got.NumFish, "one fish in ten frames counts once")
	assert.InDelta(t, 20.5, got.AvgLengthCm, 1e-9)
	assert.InDelta(t, 20.5, got.MinLengthCm, 1e-9)
	assert.Equal(t, 1, got.FeedingTurns)

	// The same records counted as images would be ten fish.
	assert.Equal(t, 10, DefaultPolicy().Aggregate("v", ModeImage, records, now).NumFish)
}

func TestAggregate_VideoPerFishMean(t *testing.T) {
	t.Parallel()

	records := []Record{
		{FishID: 1, LengthCm: 10}, {FishID: 1, LengthCm: 12},
		{FishID: 2, LengthCm: 30},
		{FishID: 1, LengthCm: 14},
	}
	got := DefaultPolicy().Aggregate("v", ModeVideo, records, now)
	assert.Equal(t, 2, got.NumFish)
	assert.InDelta(t, 12, got.MinLengthCm, 1e-9)
	assert.InDelta(t, 30, got.MaxLengthCm, 1e-9)
	assert.InDelta(t, 21, got.AvgLengthCm, 1e-9)
	assert.Equal(t, 2, DistinctFish(records))
}

func TestAggregate_NoFishZeroes(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeImage, ModeVideo} {
		got := DefaultPolicy().Aggregate("z", mode, nil, now)
		assert.Equal(t, 0, got.NumFish)
		assert.Zero(t, got.MinLengthCm)
		assert.Zero(t, got.MaxLengthCm)
		assert.Zero(t, got.AvgLengthCm)
		assert.Zero(t, got.FeedingTurns)
		assert.Zero(t, got.FeedingDurationMs)
		assert.Zero(t, got.FeedingGapMs)
		assert.Equal(t, StatusNotReady, got.HarvestStatus)
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{ReadyCm: 10, ApproachingCm: 20}.Validate())
	assert.Error(t, Policy{ReadyCm: 10, ApproachingCm: -1}.Validate())
	assert.Error(t, Policy{ReadyCm: 10, ApproachingCm: 5, TurnDurationMs: -1}.Validate())
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	id := NewRunID(now)
	assert.Regexp(t, regexp.MustCompile(`^20250301-093000-[0-9a-f]{5}$`), id)
	assert.NotEqual(t, id, NewRunID(now))
}

func TestRound2(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 21.46, Round2(21.4567))
	assert.Equal(t, 0.0, Round2(0.004))
}

func TestLastSummary(t *testing.T) {
	t.Parallel()

	var l LastSummary
	_, ok := l.Get()
	assert.False(t, ok)

	l.Set(Summary{RunID: "a", NumFish: 3})
	l.Set(Summary{RunID: "b", NumFish: 0})
	got, ok := l.Get()
	require.True(t, ok)
	assert.Equal(t, "b", got.RunID, "every run overwrites the previous summary")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Set(Summary{RunID: "c"})
			l.Get()
		}()
	}
	wg.Wait()
}
