package vision

import (
	"fmt"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
)

// FourCC codes used for output videos.
const (
	FourCCRecording = "mp4v"
	FourCCAnalysis  = "avc1"
)

// ReadImage decodes an image file, honouring EXIF orientation.
func ReadImage(path string) (frames.Frame, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image %s: %w", path, err)
	}
	return NewMatFrame(m), nil
}

// ImageIO reads and writes still images. The output format follows the file
// extension.
type ImageIO struct{}

func (ImageIO) ReadImage(path string) (frames.Frame, error) { return ReadImage(path) }

func (ImageIO) WriteImage(path string, f frames.Frame) error {
	m, release, err := toMat(f)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	if ok := gocv.IMWrite(path, m); !ok {
		return fmt.Errorf("write image %s failed", path)
	}
	return nil
}

// JPEGEncoder encodes frames for the MJPEG stream.
type JPEGEncoder struct{}

func (JPEGEncoder) EncodeJPEG(f frames.Frame) ([]byte, error) {
	m, release, err := toMat(f)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	// The native buffer is freed on Close.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// VideoSinkFactory opens encoded video files with a fixed codec.
type VideoSinkFactory struct {
	FourCC string
}

func (v VideoSinkFactory) OpenSink(path string, fps float64, size measure.Size) (frames.Sink, error) {
	codec := v.FourCC
	if codec == "" {
		codec = FourCCRecording
	}
	vw, err := gocv.VideoWriterFile(path, codec, fps, size.Width, size.Height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("open video writer %s: codec %s unavailable", path, codec)
	}
	return &videoSink{vw: vw, size: size}, nil
}

type videoSink struct {
	vw   *gocv.VideoWriter
	size measure.Size
}

func (s *videoSink) Write(f frames.Frame) error {
	if got := f.Size(); got != s.size {
		return fmt.Errorf("frame %dx%d does not match video %dx%d", got.Width, got.Height, s.size.Width, s.size.Height)
	}
	m, release, err := toMat(f)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	return s.vw.Write(m)
}

func (s *videoSink) Close() error {
	return s.vw.Close()
}
