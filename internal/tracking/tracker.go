// Package tracking assigns stable identities to fish across consecutive video
// frames so that one fish seen in many frames is counted once.
package tracking

import (
	"fmt"

	"github.com/banshee-data/tankwatch/internal/measure"
)

// Tracker implementation names accepted by New.
const (
	KindGreedy    = "greedy"
	KindUntracked = "untracked"
)

// Track is the identity assigned to one detection in one frame, plus the
// tracker's current estimate for that identity.
type Track struct {
	ID            uint64
	Head          measure.Point
	Tail          measure.Point
	LastBox       measure.Rect
	FirstFrame    uint64
	LastSeenFrame uint64
	Hits          int

	// Detection is the detection associated with this track in the frame
	// passed to Update, and DetIndex its position in that input.
	Detection measure.Detection
	DetIndex  int
}

// Tracker is the capability interface used by the video analysis path.
// Update must be called once per frame in non-decreasing frame order from a
// single goroutine; one Tracker serves exactly one run.
type Tracker interface {
	// Update associates the frame's filtered detections with tracks and
	// returns one Track per detection, ordered by detection index.
	Update(dets []measure.Detection, frameIndex uint64) []Track
	// Reset drops all state. IDs restart at 1, which is only valid when a new
	// run begins.
	Reset()
	// Mode names the implementation.
	Mode() string
}

// Config selects and tunes the tracker implementation.
type Config struct {
	Kind string
	// DistanceThreshold is the maximum mean head/tail distance in pixels at
	// which a detection may continue an existing track.
	DistanceThreshold float64
	// MaxMisses is the staleness window: a track not seen for more than this
	// many frames is retired and its ID never reused.
	MaxMisses int
}

// DefaultConfig returns the greedy tracker with default thresholds.
func DefaultConfig() Config {
	return Config{
		Kind:              KindGreedy,
		DistanceThreshold: 30.0,
		MaxMisses:         15,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Kind {
	case KindGreedy, KindUntracked, "":
	default:
		return fmt.Errorf("unknown tracker %q: expected %q or %q", c.Kind, KindGreedy, KindUntracked)
	}
	if c.DistanceThreshold <= 0 {
		return fmt.Errorf("distance threshold must be positive, got %f", c.DistanceThreshold)
	}
	if c.MaxMisses < 0 {
		return fmt.Errorf("max misses must be non-negative, got %d", c.MaxMisses)
	}
	return nil
}

// New constructs the tracker named by cfg.Kind. An empty kind means greedy.
func New(cfg Config) (Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Kind == KindUntracked {
		return NewUntracked(), nil
	}
	return NewGreedyTracker(cfg), nil
}

// pairDistance is the association metric: the mean of the head-to-head and
// tail-to-tail distances.
func pairDistance(head, tail measure.Point, d measure.Detection) float64 {
	return (head.Dist(d.Head) + tail.Dist(d.Tail)) / 2
}
