package tracking

import "github.com/banshee-data/tankwatch/internal/measure"

// Untracked is the reduced-accuracy fallback: each frame's detections are
// numbered 1..k in detection order and nothing carries over between frames.
// A distinct-ID count over a run therefore reports the largest number of fish
// seen in any single frame rather than the number of individuals.
type Untracked struct{}

var _ Tracker = Untracked{}

// NewUntracked returns the pass-through tracker.
func NewUntracked() Untracked { return Untracked{} }

// Mode reports KindUntracked.
func (Untracked) Mode() string { return KindUntracked }

// Reset is a no-op; Untracked keeps no state.
func (Untracked) Reset() {}

// Update numbers dets 1..k in input order as fresh single-hit tracks.
func (Untracked) Update(dets []measure.Detection, frameIndex uint64) []Track {
	out := make([]Track, len(dets))
	for i, d := range dets {
		out[i] = Track{
			ID:            uint64(i + 1),
			Head:          d.Head,
			Tail:          d.Tail,
			LastBox:       d.Box,
			FirstFrame:    frameIndex,
			LastSeenFrame: frameIndex,
			Hits:          1,
			Detection:     d,
			DetIndex:      i,
		}
	}
	return out
}
