// Package frames defines the frame abstraction shared by the stream session,
// the analysis runner and the detector, so that none of them depends on the
// OpenCV bindings directly.
package frames

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/banshee-data/tankwatch/internal/measure"
)

// Frame is one decoded video frame or image. Implementations may hold native
// memory, so every Frame (including clones) must be closed by its owner.
type Frame interface {
	Size() measure.Size
	// Clone returns an independent copy the caller owns.
	Clone() Frame
	// Image returns the pixels as a Go image.
	Image() (image.Image, error)
	Close() error
}

// Source yields frames in order. Read returns io.EOF at end of stream.
type Source interface {
	Read() (Frame, error)
	// FPS reports the nominal frame rate, or 0 when the source does not know.
	FPS() float64
	Close() error
}

// Sink appends frames of a fixed size to an encoded file.
type Sink interface {
	Write(Frame) error
	// Close flushes and finalises the file.
	Close() error
}

// SinkFactory opens a sink at path.
type SinkFactory interface {
	OpenSink(path string, fps float64, size measure.Size) (Sink, error)
}

// Encoder turns a frame into JPEG bytes.
type Encoder interface {
	EncodeJPEG(Frame) ([]byte, error)
}

// ImageWriter persists one frame as an image file.
type ImageWriter interface {
	WriteImage(path string, f Frame) error
}

// ImageFrame is a Frame backed by an in-memory Go image.
type ImageFrame struct {
	img    image.Image
	closed bool
}

// FromImage wraps img.
func FromImage(img image.Image) *ImageFrame {
	return &ImageFrame{img: img}
}

// Blank returns a black frame of the given size.
func Blank(width, height int) *ImageFrame {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return &ImageFrame{img: img}
}

func (f *ImageFrame) Size() measure.Size {
	b := f.img.Bounds()
	return measure.Size{Width: b.Dx(), Height: b.Dy()}
}

func (f *ImageFrame) Clone() Frame {
	b := f.img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), f.img, b.Min, draw.Src)
	return &ImageFrame{img: dst}
}

func (f *ImageFrame) Image() (image.Image, error) { return f.img, nil }

func (f *ImageFrame) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *ImageFrame) Closed() bool { return f.closed }
