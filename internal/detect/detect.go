// Package detect adapts pose-estimation models to the fish detector contract:
// one bounding box, a head keypoint, a tail keypoint and a confidence per fish.
package detect

import (
	"context"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
)

// Detector finds fish in a frame. Implementations may be slow and are not
// required to be safe for concurrent use unless documented.
type Detector interface {
	Detect(ctx context.Context, f frames.Frame) ([]measure.Detection, error)
}

// Func adapts a function to Detector.
type Func func(ctx context.Context, f frames.Frame) ([]measure.Detection, error)

func (fn Func) Detect(ctx context.Context, f frames.Frame) ([]measure.Detection, error) {
	return fn(ctx, f)
}

// Static returns the same detections for every frame. It backs dev mode when
// no model is installed.
type Static struct {
	Detections []measure.Detection
}

func (s Static) Detect(ctx context.Context, f frames.Frame) ([]measure.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]measure.Detection, len(s.Detections))
	copy(out, s.Detections)
	return out, nil
}
