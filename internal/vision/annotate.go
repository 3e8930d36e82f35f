package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
)

var (
	boxColor  = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	headColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	tailColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Annotator draws the measurement overlay onto MatFrames in place.
type Annotator struct{}

// Annotate draws the box, head and tail dots, the head to tail line and the
// length label for one fish.
func (Annotator) Annotate(f frames.Frame, det measure.Detection, lengthCm float64) error {
	mf, ok := f.(*MatFrame)
	if !ok {
		return ErrNotMat
	}
	m := mf.Mat()

	box := image.Rect(round(det.Box.X1), round(det.Box.Y1), round(det.Box.X2), round(det.Box.Y2))
	head := image.Pt(round(det.Head.X), round(det.Head.Y))
	tail := image.Pt(round(det.Tail.X), round(det.Tail.Y))

	gocv.Rectangle(m, box, boxColor, 2)
	gocv.Circle(m, head, 6, headColor, -1)
	gocv.Circle(m, tail, 6, tailColor, -1)
	gocv.Line(m, head, tail, tailColor, 3)
	gocv.PutText(m, fmt.Sprintf("%.2f cm", lengthCm), image.Pt(box.Min.X, box.Min.Y-10),
		gocv.FontHersheySimplex, 0.7, boxColor, 2)
	return nil
}

func round(v float64) int { return int(math.Round(v)) }
