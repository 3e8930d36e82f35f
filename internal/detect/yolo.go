package detect

import (
	"fmt"
	"image"
	"sort"

	"github.com/banshee-data/tankwatch/internal/measure"
)

// Output layout of the pose export: per candidate, cx, cy, w, h, confidence,
// then (x, y, visibility) for each keypoint, stored channel-major.
const (
	NumCandidates   = 8400
	NumKeypoints    = 2
	NumChannels     = 5 + 3*NumKeypoints
	DefaultConf     = 0.25
	DefaultIoU      = 0.45
	DefaultInputDim = 640
)

// decodePose turns the raw output tensor into detections in source pixel
// coordinates. Candidates below confThreshold are dropped.
func decodePose(pred []float32, numCandidates int, confThreshold float32, scaleX, scaleY float64) ([]measure.Detection, error) {
	if want := NumChannels * numCandidates; len(pred) != want {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(pred), want)
	}
	at := func(c, i int) float64 { return float64(pred[c*numCandidates+i]) }

	dets := make([]measure.Detection, 0, 32)
	for i := 0; i < numCandidates; i++ {
		conf := pred[4*numCandidates+i]
		if conf < confThreshold {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		dets = append(dets, measure.Detection{
			Box: measure.Rect{
				X1: (cx - w/2) * scaleX,
				Y1: (cy - h/2) * scaleY,
				X2: (cx + w/2) * scaleX,
				Y2: (cy + h/2) * scaleY,
			},
			Head:       measure.Point{X: at(5, i) * scaleX, Y: at(6, i) * scaleY},
			Tail:       measure.Point{X: at(8, i) * scaleX, Y: at(9, i) * scaleY},
			Confidence: float64(conf),
		})
	}
	return dets, nil
}

// nms keeps the highest-confidence detection of every group whose boxes
// overlap by more than iouThreshold. The result is ordered by confidence.
func nms(dets []measure.Detection, iouThreshold float64) []measure.Detection {
	sorted := make([]measure.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	kept := make([]measure.Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && iou(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b measure.Rect) float64 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Width()*a.Height() + b.Width()*b.Height() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// clampToFrame keeps boxes inside the source image.
func clampToFrame(dets []measure.Detection, size measure.Size) {
	w, h := float64(size.Width), float64(size.Height)
	for i := range dets {
		b := &dets[i].Box
		b.X1, b.Y1 = max(0, b.X1), max(0, b.Y1)
		b.X2, b.Y2 = min(w, b.X2), min(h, b.Y2)
	}
}

// fillInput writes img, already resized to dim x dim, into buf as normalised
// RGB planes.
func fillInput(img image.Image, dim int, buf []float32) {
	channelSize := dim * dim
	bounds := img.Bounds()
	for y := 0; y < dim; y++ {
		offset := y * dim
		for x := 0; x < dim; x++ {
			i := offset + x
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			buf[i] = float32(r>>8) / 255.0
			buf[channelSize+i] = float32(g>>8) / 255.0
			buf[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}
