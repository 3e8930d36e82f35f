// Package decision folds per-fish measurements into a run summary and derives
// the harvest status and feeding parameters from it.
package decision

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mode says how records are counted.
type Mode string

const (
	// ModeImage counts every record as one fish.
	ModeImage Mode = "image"
	// ModeVideo counts distinct fish IDs across the run.
	ModeVideo Mode = "video"
)

// HarvestStatus is the coarse readiness judgement for the population.
type HarvestStatus string

const (
	StatusReady       HarvestStatus = "ready"
	StatusApproaching HarvestStatus = "approaching"
	StatusNotReady    HarvestStatus = "not ready"
)

// Record is one measured fish in one frame (video) or one image.
type Record struct {
	RunID      string  `json:"run_id"`
	Frame      uint64  `json:"frame"`
	FishID     uint64  `json:"fish_id"`
	Confidence float64 `json:"confidence"`
	LengthPx   float64 `json:"length_px"`
	LengthCm   float64 `json:"length_cm"`
}

// Summary is the outcome of one analysis run.
type Summary struct {
	RunID             string        `json:"run_id"`
	Mode              Mode          `json:"mode"`
	NumFish           int           `json:"num_fish"`
	MinLengthCm       float64       `json:"min_length_cm"`
	MaxLengthCm       float64       `json:"max_length_cm"`
	AvgLengthCm       float64       `json:"avg_length_cm"`
	HarvestStatus     HarvestStatus `json:"harvest_status"`
	FeedingTurns      int           `json:"feeding_turns"`
	FeedingDurationMs int           `json:"feeding_duration_ms"`
	FeedingGapMs      int           `json:"feeding_gap_ms"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Policy holds the configurable decision thresholds.
type Policy struct {
	// ReadyCm and ApproachingCm are closed lower bounds on the average length.
	ReadyCm       float64
	ApproachingCm float64
	// TurnDurationMs is how long the feeder runs per turn; TurnGapMs is the
	// pause between turns.
	TurnDurationMs int
	TurnGapMs      int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ReadyCm:        25.0,
		ApproachingCm:  20.0,
		TurnDurationMs: 1000,
		TurnGapMs:      2000,
	}
}

// Validate checks that the thresholds describe three ordered intervals.
func (p Policy) Validate() error {
	if p.ApproachingCm < 0 || p.ReadyCm < 0 {
		return fmt.Errorf("harvest thresholds must be non-negative")
	}
	if p.ApproachingCm > p.ReadyCm {
		return fmt.Errorf("approaching threshold %.2f exceeds ready threshold %.2f", p.ApproachingCm, p.ReadyCm)
	}
	if p.TurnDurationMs < 0 || p.TurnGapMs < 0 {
		return fmt.Errorf("feeding durations must be non-negative")
	}
	return nil
}

// HarvestStatus classifies an average length.
func (p Policy) HarvestStatus(avgLengthCm float64) HarvestStatus {
	switch {
	case avgLengthCm >= p.ReadyCm:
		return StatusReady
	case avgLengthCm >= p.ApproachingCm:
		return StatusApproaching
	default:
		return StatusNotReady
	}
}

// MaxFeedingTurns caps actuator dosing regardless of population size.
const MaxFeedingTurns = 4

// FeedingTurns maps a fish count to feeder turns: 0 -> 0, 1-2 -> 1, 3-4 -> 2,
// 5-6 -> 3, 7 and above -> 4.
func FeedingTurns(numFish int) int {
	if numFish <= 0 {
		return 0
	}
	turns := (numFish + 1) / 2
	if turns > MaxFeedingTurns {
		return MaxFeedingTurns
	}
	return turns
}

// Aggregate builds the summary for a run. In video mode a fish seen in many
// frames contributes its mean length once.
func (p Policy) Aggregate(runID string, mode Mode, records []Record, now time.Time) Summary {
	s := Summary{RunID: runID, Mode: mode, CreatedAt: now}

	lengths := perFishLengths(mode, records)
	s.NumFish = len(lengths)
	if s.NumFish > 0 {
		s.MinLengthCm = floats.Min(lengths)
		s.MaxLengthCm = floats.Max(lengths)
		s.AvgLengthCm = stat.Mean(lengths, nil)
	}
	s.HarvestStatus = p.HarvestStatus(s.AvgLengthCm)
	s.FeedingTurns = FeedingTurns(s.NumFish)
	if s.FeedingTurns > 0 {
		s.FeedingDurationMs = p.TurnDurationMs
		s.FeedingGapMs = p.TurnGapMs
	}
	return s
}

func perFishLengths(mode Mode, records []Record) []float64 {
	if mode != ModeVideo {
		out := make([]float64, len(records))
		for i, r := range records {
			out[i] = r.LengthCm
		}
		return out
	}

	byFish := make(map[uint64][]float64)
	for _, r := range records {
		byFish[r.FishID] = append(byFish[r.FishID], r.LengthCm)
	}
	fishIDs := make([]uint64, 0, len(byFish))
	for id := range byFish {
		fishIDs = append(fishIDs, id)
	}
	sort.Slice(fishIDs, func(i, j int) bool { return fishIDs[i] < fishIDs[j] })

	out := make([]float64, len(fishIDs))
	for i, id := range fishIDs {
		out[i] = stat.Mean(byFish[id], nil)
	}
	return out
}

// DistinctFish counts unique fish IDs in records.
func DistinctFish(records []Record) int {
	seen := make(map[uint64]struct{}, len(records))
	for _, r := range records {
		seen[r.FishID] = struct{}{}
	}
	return len(seen)
}

// Round2 rounds to two decimals for display and storage of lengths.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewRunID returns "YYYYMMDD-HHMMSS-xxxxx" with five hex characters from a
// random UUID so concurrent runs in the same second do not collide.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return now.Format("20060102-150405") + "-" + suffix
}

// LastSummary holds the most recent run summary for the process. Every run
// overwrites it; the manual feed trigger reads it.
type LastSummary struct {
	mu      sync.RWMutex
	summary Summary
	set     bool
}

// Set overwrites the stored summary.
func (l *LastSummary) Set(s Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary = s
	l.set = true
}

// Get returns the stored summary and whether any run has completed.
func (l *LastSummary) Get() (Summary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summary, l.set
}
