// Package measure holds the geometric types produced by the detector and the
// per-frame detection filter applied identically to images and video frames.
package measure

import (
	"fmt"
	"math"
)

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Rect is an axis-aligned box in pixel coordinates, (X1,Y1) top-left.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Width and Height never go negative, even for inverted boxes.
func (r Rect) Width() float64  { return math.Abs(r.X2 - r.X1) }
func (r Rect) Height() float64 { return math.Abs(r.Y2 - r.Y1) }

// Size is a frame size in pixels.
type Size struct {
	Width  int
	Height int
}

// Detection is one object reported by the detector for one frame: a box, the
// head and tail keypoints, and the detector confidence in [0,1].
type Detection struct {
	Box        Rect    `json:"box"`
	Head       Point   `json:"head"`
	Tail       Point   `json:"tail"`
	Confidence float64 `json:"confidence"`
}

// LengthPx is the head-to-tail distance in pixels.
func (d Detection) LengthPx() float64 {
	return d.Head.Dist(d.Tail)
}

// LengthCm converts a pixel length with the calibration factor pxPerCm.
func LengthCm(lengthPx, pxPerCm float64) float64 {
	if pxPerCm <= 0 {
		return 0
	}
	return lengthPx / pxPerCm
}

// Default filter thresholds.
const (
	DefaultMinConfidence = 0.65
	DefaultMinLengthPx   = 40.0
	DefaultBorderMargin  = 0.08
)

// Thresholds configures Filter.
type Thresholds struct {
	MinConfidence float64
	MinLengthPx   float64
	// BorderMargin is the fraction of width/height trimmed from each side of
	// the frame; box centres outside the remaining interior are rejected.
	BorderMargin float64
}

// DefaultThresholds returns the thresholds used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence: DefaultMinConfidence,
		MinLengthPx:   DefaultMinLengthPx,
		BorderMargin:  DefaultBorderMargin,
	}
}

// Validate rejects thresholds that would make the filter meaningless.
func (t Thresholds) Validate() error {
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0 and 1, got %f", t.MinConfidence)
	}
	if t.MinLengthPx < 0 {
		return fmt.Errorf("min length must be non-negative, got %f", t.MinLengthPx)
	}
	if t.BorderMargin < 0 || t.BorderMargin >= 0.5 {
		return fmt.Errorf("border margin must be in [0, 0.5), got %f", t.BorderMargin)
	}
	return nil
}

// Reject reasons reported by Check.
const (
	RejectNone       = ""
	RejectConfidence = "confidence"
	RejectLength     = "length"
	RejectBorder     = "border"
)

// Check applies the rules in priority order and returns the first one that
// fails, or RejectNone.
func (t Thresholds) Check(d Detection, frame Size) string {
	if d.Confidence < t.MinConfidence {
		return RejectConfidence
	}
	if d.LengthPx() < t.MinLengthPx {
		return RejectLength
	}
	mx := float64(frame.Width) * t.BorderMargin
	my := float64(frame.Height) * t.BorderMargin
	c := d.Box.Center()
	if c.X < mx || c.X > float64(frame.Width)-mx || c.Y < my || c.Y > float64(frame.Height)-my {
		return RejectBorder
	}
	return RejectNone
}

// Filter returns the detections that pass every rule, preserving input order.
// It never modifies its input.
func Filter(dets []Detection, frame Size, t Thresholds) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if t.Check(d, frame) == RejectNone {
			out = append(out, d)
		}
	}
	return out
}
