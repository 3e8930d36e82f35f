// Package vision implements the frame abstractions on top of OpenCV (gocv):
// camera and file capture, video and image files, JPEG encoding and the
// measurement overlay.
package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/monitoring"
)

var logf = monitoring.Tagged("vision")

// ErrNotMat is returned when an in-place operation gets a frame that is not
// backed by an OpenCV matrix.
var ErrNotMat = errors.New("frame is not an OpenCV matrix")

// MatFrame is a frames.Frame over a BGR gocv.Mat. The frame owns the matrix.
type MatFrame struct {
	mat gocv.Mat
}

// NewMatFrame takes ownership of m.
func NewMatFrame(m gocv.Mat) *MatFrame {
	return &MatFrame{mat: m}
}

// Mat exposes the matrix for drawing. It stays owned by the frame.
func (f *MatFrame) Mat() *gocv.Mat { return &f.mat }

func (f *MatFrame) Size() measure.Size {
	return measure.Size{Width: f.mat.Cols(), Height: f.mat.Rows()}
}

func (f *MatFrame) Clone() frames.Frame {
	return &MatFrame{mat: f.mat.Clone()}
}

func (f *MatFrame) Image() (image.Image, error) {
	return f.mat.ToImage()
}

func (f *MatFrame) Close() error {
	return f.mat.Close()
}

// toMat returns a matrix for f. When release is non-nil the caller must call
// it once done with the matrix.
func toMat(f frames.Frame) (m gocv.Mat, release func(), err error) {
	if mf, ok := f.(*MatFrame); ok {
		return mf.mat, nil, nil
	}
	img, err := f.Image()
	if err != nil {
		return gocv.Mat{}, nil, err
	}
	m, err = gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, nil, fmt.Errorf("convert image to matrix: %w", err)
	}
	return m, func() { m.Close() }, nil
}

// Placeholder returns a black frame.
func Placeholder(size measure.Size) frames.Frame {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Height, size.Width, gocv.MatTypeCV8UC3)
	return NewMatFrame(m)
}
