// Package stream owns the live camera session: the most recent frame, the
// optional recording sink, snapshots, and the producer loop that keeps viewers
// supplied with JPEG frames even when the camera is unreachable.
package stream

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/monitoring"
	"github.com/banshee-data/tankwatch/internal/timeutil"
)

// Expected session outcomes. Callers test for them with errors.Is; none of
// them indicates a fault.
var (
	ErrNoFrameAvailable  = errors.New("no frame available")
	ErrAlreadyRecording  = errors.New("already recording")
	ErrNotRecording      = errors.New("not recording")
	ErrSourceUnavailable = errors.New("live source unavailable")
)

// DefaultRecordFPS is the frame rate recordings are written at.
const DefaultRecordFPS = 20.0

var logf = monitoring.Tagged("stream")

// State is the source state of the session.
type State string

const (
	StateIdle State = "idle"
	StateLive State = "live"
)

// Artifact names a file produced by the session.
type Artifact struct {
	File string `json:"file"`
	Path string `json:"path"`
}

// Status is a point-in-time view of the session.
type Status struct {
	State          State  `json:"state"`
	Recording      bool   `json:"recording"`
	RecordingFile  string `json:"recording_file,omitempty"`
	HasFrame       bool   `json:"has_frame"`
	FrameWidth     int    `json:"frame_width,omitempty"`
	FrameHeight    int    `json:"frame_height,omitempty"`
	FramesProduced uint64 `json:"frames_produced"`
	FramesRecorded uint64 `json:"frames_recorded"`
	Placeholder    bool   `json:"placeholder"`
	ReconnectTries int    `json:"reconnect_attempts"`
	LastError      string `json:"last_error,omitempty"`
}

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	SnapshotDir  string
	RecordingDir string
	// RecordFPS defaults to DefaultRecordFPS.
	RecordFPS float64
	Sinks     frames.SinkFactory
	Images    frames.ImageWriter
	Clock     timeutil.Clock
}

// Session is the mutex-guarded state shared by the producer loop and the
// control operations.
type Session struct {
	cfg SessionConfig

	mu             sync.Mutex
	state          State
	placeholder    bool
	reconnectTries int
	lastErr        string
	lastFrame      frames.Frame
	framesProduced uint64

	recording      bool
	sink           frames.Sink
	recordSize     measure.Size
	recordingFile  string
	framesRecorded uint64

	seq uint64
}

// NewSession creates an idle session with no frame.
func NewSession(cfg SessionConfig) *Session {
	if cfg.RecordFPS <= 0 {
		cfg.RecordFPS = DefaultRecordFPS
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Session{cfg: cfg, state: StateIdle}
}

// Observe records f as the latest frame and, while recording, writes that
// same frame to the sink. The caller keeps ownership of f.
func (s *Session) Observe(f frames.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFrame != nil {
		s.lastFrame.Close()
	}
	s.lastFrame = f.Clone()
	s.framesProduced++

	if !s.recording || s.sink == nil {
		return
	}
	if size := f.Size(); size != s.recordSize {
		logf("dropping %dx%d frame from %dx%d recording %s", size.Width, size.Height, s.recordSize.Width, s.recordSize.Height, s.recordingFile)
		return
	}
	if err := s.sink.Write(f); err != nil {
		logf("recording %s write failed, stopping: %v", s.recordingFile, err)
		s.closeSinkLocked()
		return
	}
	s.framesRecorded++
}

// CaptureSnapshot writes the most recent frame to the snapshot directory.
func (s *Session) CaptureSnapshot() (Artifact, error) {
	s.mu.Lock()
	if s.lastFrame == nil {
		s.mu.Unlock()
		return Artifact{}, ErrNoFrameAvailable
	}
	frame := s.lastFrame.Clone()
	name := s.nextNameLocked("snapshot.jpg")
	s.mu.Unlock()
	defer frame.Close()

	path := filepath.Join(s.cfg.SnapshotDir, name)
	if err := s.cfg.Images.WriteImage(path, frame); err != nil {
		return Artifact{}, fmt.Errorf("write snapshot %s: %w", name, err)
	}
	logf("snapshot saved to %s", path)
	return Artifact{File: name, Path: path}, nil
}

// StartRecording opens a sink sized to the latest frame.
func (s *Session) StartRecording() (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return Artifact{}, ErrAlreadyRecording
	}
	if s.lastFrame == nil {
		return Artifact{}, ErrNoFrameAvailable
	}

	size := s.lastFrame.Size()
	name := s.nextNameLocked("stream.mp4")
	path := filepath.Join(s.cfg.RecordingDir, name)
	sink, err := s.cfg.Sinks.OpenSink(path, s.cfg.RecordFPS, size)
	if err != nil {
		return Artifact{}, fmt.Errorf("open recording %s: %w", name, err)
	}

	s.sink = sink
	s.recording = true
	s.recordSize = size
	s.recordingFile = name
	s.framesRecorded = 0
	logf("recording started: %s (%dx%d @ %.0f fps)", path, size.Width, size.Height, s.cfg.RecordFPS)
	return Artifact{File: name, Path: path}, nil
}

// StopRecording finalises the active recording. It returns ErrNotRecording,
// and touches nothing, when no recording is active.
func (s *Session) StopRecording() (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return Artifact{}, ErrNotRecording
	}
	art := Artifact{File: s.recordingFile, Path: filepath.Join(s.cfg.RecordingDir, s.recordingFile)}
	recorded := s.framesRecorded
	if err := s.closeSinkLocked(); err != nil {
		return art, fmt.Errorf("close recording %s: %w", art.File, err)
	}
	logf("recording stopped: %s (%d frames)", art.Path, recorded)
	return art, nil
}

func (s *Session) closeSinkLocked() error {
	var err error
	if s.sink != nil {
		err = s.sink.Close()
	}
	s.sink = nil
	s.recording = false
	s.recordingFile = ""
	return err
}

// nextNameLocked builds "<YYYYmmdd-HHMMSS>-<seq>_<suffix>". The per-session
// sequence keeps names unique within one second.
func (s *Session) nextNameLocked(suffix string) string {
	s.seq++
	return fmt.Sprintf("%s-%03d_%s", s.cfg.Clock.Now().Format("20060102-150405"), s.seq, suffix)
}

// setSource is called by the producer when the source opens or is lost.
func (s *Session) setSource(live bool, placeholder bool, tries int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if live {
		s.state = StateLive
	} else {
		s.state = StateIdle
	}
	s.placeholder = placeholder
	s.reconnectTries = tries
	if err != nil {
		s.lastErr = err.Error()
	} else if live {
		s.lastErr = ""
	}
}

// HasFrame reports whether any frame has ever been observed.
func (s *Session) HasFrame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame != nil
}

// Status returns a snapshot of the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:          s.state,
		Recording:      s.recording,
		RecordingFile:  s.recordingFile,
		HasFrame:       s.lastFrame != nil,
		FramesProduced: s.framesProduced,
		FramesRecorded: s.framesRecorded,
		Placeholder:    s.placeholder,
		ReconnectTries: s.reconnectTries,
		LastError:      s.lastErr,
	}
	if s.lastFrame != nil {
		size := s.lastFrame.Size()
		st.FrameWidth, st.FrameHeight = size.Width, size.Height
	}
	return st
}

// Close stops any recording and releases the held frame.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.recording {
		err = s.closeSinkLocked()
	}
	if s.lastFrame != nil {
		s.lastFrame.Close()
		s.lastFrame = nil
	}
	s.state = StateIdle
	return err
}
