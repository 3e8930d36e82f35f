package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/banshee-data/tankwatch/internal/frames"
)

// DefaultVideoFPS is assumed when a file does not report its frame rate.
const DefaultVideoFPS = 15.0

var errReadFailed = errors.New("capture read failed")

// CaptureOpener opens the live source. URL is a stream URL, a file path, or a
// local camera index such as "0".
type CaptureOpener struct {
	URL string
}

func (o CaptureOpener) Open(ctx context.Context) (frames.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(o.URL); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.VideoCaptureFile(o.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", o.URL, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open capture %q: not opened", o.URL)
	}
	// Keep latency low on network streams.
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	logf("opened live source %s", o.URL)
	return &captureSource{vc: vc, live: true}, nil
}

// OpenVideo opens a video file for analysis. A failed read at the end of the
// file is reported as io.EOF.
func OpenVideo(path string) (frames.Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %s: not opened", path)
	}
	return &captureSource{vc: vc}, nil
}

// VideoOpener adapts OpenVideo to an interface.
type VideoOpener struct{}

func (VideoOpener) OpenVideo(path string) (frames.Source, error) { return OpenVideo(path) }

type captureSource struct {
	vc   *gocv.VideoCapture
	live bool
}

func (s *captureSource) Read() (frames.Frame, error) {
	m := gocv.NewMat()
	if ok := s.vc.Read(&m); !ok || m.Empty() {
		m.Close()
		if s.live {
			return nil, errReadFailed
		}
		return nil, io.EOF
	}
	return NewMatFrame(m), nil
}

func (s *captureSource) FPS() float64 {
	fps := s.vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || fps > 240 {
		if s.live {
			return 0
		}
		return DefaultVideoFPS
	}
	return fps
}

func (s *captureSource) Close() error {
	return s.vc.Close()
}
