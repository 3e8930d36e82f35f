// Package analysis runs the measurement pipeline over an uploaded image or
// video: detect, filter, track, measure, annotate, aggregate, then persist the
// run and optionally dispatch a feed command.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/detect"
	"github.com/banshee-data/tankwatch/internal/feeder"
	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/monitoring"
	"github.com/banshee-data/tankwatch/internal/report"
	"github.com/banshee-data/tankwatch/internal/timeutil"
	"github.com/banshee-data/tankwatch/internal/tracking"
)

var logf = monitoring.Tagged("analysis")

// ErrInputUnreadable means the uploaded file could not be decoded. No
// artifacts are written for such a run.
var ErrInputUnreadable = errors.New("input unreadable")

// DefaultVideoFPS is used for the annotated output when the input does not
// report a frame rate.
const DefaultVideoFPS = 15.0

// ImageReader loads a still image.
type ImageReader interface {
	ReadImage(path string) (frames.Frame, error)
}

// ImageIO reads input images and writes annotated ones.
type ImageIO interface {
	ImageReader
	frames.ImageWriter
}

// VideoOpener opens a recorded video for frame-by-frame reading.
type VideoOpener interface {
	OpenVideo(path string) (frames.Source, error)
}

// Annotator draws one fish's overlay onto a frame in place.
type Annotator interface {
	Annotate(f frames.Frame, det measure.Detection, lengthCm float64) error
}

// Store persists finished runs.
type Store interface {
	RecordRun(ctx context.Context, s decision.Summary, records []decision.Record) error
}

// Dispatcher sends a feed command for a summary.
type Dispatcher interface {
	Dispatch(ctx context.Context, s decision.Summary, source feeder.Source) feeder.Result
}

// Config tunes a Runner.
type Config struct {
	Thresholds measure.Thresholds
	Tracker    tracking.Config
	Policy     decision.Policy
	PxPerCm    float64
	AutoFeed   feeder.AutoPolicy
	// MaxFrames stops video analysis after this many frames. Zero reads to
	// the end of the stream.
	MaxFrames uint64
}

// Deps are the collaborators of a Runner. Store and Dispatcher are optional.
type Deps struct {
	Detector   detect.Detector
	Images     ImageIO
	Videos     VideoOpener
	Sinks      frames.SinkFactory
	Annotator  Annotator
	Artifacts  *report.ArtifactStore
	Last       *decision.LastSummary
	Store      Store
	Dispatcher Dispatcher
	Clock      timeutil.Clock
}

// Runner executes analysis runs. Runs are independent and may execute
// concurrently; each video run owns its own tracker.
type Runner struct {
	cfg Config
	Deps
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if cfg.PxPerCm <= 0 {
		return nil, fmt.Errorf("px_per_cm must be positive, got %f", cfg.PxPerCm)
	}
	if deps.Detector == nil || deps.Artifacts == nil {
		return nil, errors.New("analysis runner needs a detector and an artifact store")
	}
	if deps.Last == nil {
		deps.Last = &decision.LastSummary{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Runner{cfg: cfg, Deps: deps}, nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() Config { return r.cfg }

// ImageResult is the outcome of AnalyzeImage.
type ImageResult struct {
	Summary  decision.Summary  `json:"summary"`
	Records  []decision.Record `json:"records"`
	ImageURL string            `json:"image_url"`
	CSVURL   string            `json:"csv_url"`
	Dispatch *feeder.Result    `json:"dispatch,omitempty"`
}

// VideoResult is the outcome of AnalyzeVideo.
type VideoResult struct {
	Summary  decision.Summary  `json:"summary"`
	Records  []decision.Record `json:"records"`
	VideoURL string            `json:"video_url"`
	CSVURL   string            `json:"csv_url"`
	Frames   uint64            `json:"frames"`
	Dispatch *feeder.Result    `json:"dispatch,omitempty"`
}

// AnalyzeImage measures every fish in one still image.
func (r *Runner) AnalyzeImage(ctx context.Context, path string) (ImageResult, error) {
	var res ImageResult
	if r.Images == nil {
		return res, errors.New("image analysis is not configured")
	}
	f, err := r.Images.ReadImage(path)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrInputUnreadable, path, err)
	}
	defer f.Close()

	dets, err := r.Detector.Detect(ctx, f)
	if err != nil {
		return res, fmt.Errorf("detect %s: %w", path, err)
	}
	kept := measure.Filter(dets, f.Size(), r.cfg.Thresholds)

	runID := decision.NewRunID(r.Clock.Now())
	records := make([]decision.Record, 0, len(kept))
	for i, d := range kept {
		rec := r.measure(runID, uint64(i), uint64(i+1), d)
		records = append(records, rec)
		r.annotate(f, d, rec.LengthCm)
	}

	imgName := report.AnnotatedImageName(runID)
	imgPath, err := r.Artifacts.Path(report.KindImages, imgName)
	if err != nil {
		return res, err
	}
	if err := r.Images.WriteImage(imgPath, f); err != nil {
		return res, fmt.Errorf("write annotated image: %w", err)
	}
	csvURL, err := r.writeCSV(report.KindImages, runID, records, decision.ModeImage)
	if err != nil {
		r.discard(imgPath)
		return res, err
	}

	res.Summary = r.finish(ctx, runID, decision.ModeImage, records)
	res.Records = records
	res.ImageURL = report.URL(report.KindImages, imgName)
	res.CSVURL = csvURL
	res.Dispatch = r.autoDispatch(ctx, res.Summary)
	logf("image run %s: %d of %d detections kept", runID, len(kept), len(dets))
	return res, nil
}

// AnalyzeVideo measures and tracks fish through a recorded video. The context
// is checked between frames only. A run that fails or is cancelled leaves no
// annotated video or CSV behind.
func (r *Runner) AnalyzeVideo(ctx context.Context, path string) (VideoResult, error) {
	var res VideoResult
	if r.Videos == nil || r.Sinks == nil {
		return res, errors.New("video analysis is not configured")
	}
	src, err := r.Videos.OpenVideo(path)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrInputUnreadable, path, err)
	}
	defer src.Close()

	tracker, err := tracking.New(r.cfg.Tracker)
	if err != nil {
		return res, err
	}
	if tracker.Mode() == tracking.KindUntracked {
		logf("running untracked: fish seen in several frames are counted once per frame")
	}

	runID := decision.NewRunID(r.Clock.Now())
	videoName := report.AnnotatedVideoName(runID)
	videoPath, err := r.Artifacts.Path(report.KindVideos, videoName)
	if err != nil {
		return res, err
	}
	fps := src.FPS()
	if fps <= 0 {
		fps = DefaultVideoFPS
	}

	var (
		sink    frames.Sink
		records []decision.Record
		index   uint64
	)
	closeSink := func() error {
		if sink == nil {
			return nil
		}
		err := sink.Close()
		sink = nil
		return err
	}
	csvPath, err := r.Artifacts.Path(report.KindVideos, report.CSVName(runID))
	if err != nil {
		return res, err
	}
	completed := false
	defer func() {
		if completed {
			return
		}
		closeSink()
		r.discard(videoPath, csvPath)
	}()

	for r.cfg.MaxFrames == 0 || index < r.cfg.MaxFrames {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("video run %s cancelled at frame %d: %w", runID, index, err)
		}
		f, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logf("video run %s: read failed at frame %d, treating as end of stream: %v", runID, index, err)
			break
		}

		frameRecords, err := r.videoFrame(ctx, runID, index, f, tracker)
		if err == nil && sink == nil {
			sink, err = r.Sinks.OpenSink(videoPath, fps, f.Size())
		}
		if err == nil {
			err = sink.Write(f)
		}
		f.Close()
		if err != nil {
			return res, fmt.Errorf("video run %s frame %d: %w", runID, index, err)
		}
		records = append(records, frameRecords...)
		index++
	}
	if index == 0 {
		return res, fmt.Errorf("%w: %s: no frames", ErrInputUnreadable, path)
	}
	if err := closeSink(); err != nil {
		return res, fmt.Errorf("finalise annotated video: %w", err)
	}
	if records == nil {
		records = []decision.Record{}
	}

	csvURL, err := r.writeCSV(report.KindVideos, runID, records, decision.ModeVideo)
	if err != nil {
		return res, err
	}

	completed = true
	res.Summary = r.finish(ctx, runID, decision.ModeVideo, records)
	res.Records = records
	res.VideoURL = report.URL(report.KindVideos, videoName)
	res.CSVURL = csvURL
	res.Frames = index
	res.Dispatch = r.autoDispatch(ctx, res.Summary)
	logf("video run %s: %d frames, %d measurements, %d fish", runID, index, len(records), res.Summary.NumFish)
	return res, nil
}

func (r *Runner) videoFrame(ctx context.Context, runID string, index uint64, f frames.Frame, tracker tracking.Tracker) ([]decision.Record, error) {
	dets, err := r.Detector.Detect(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	kept := measure.Filter(dets, f.Size(), r.cfg.Thresholds)
	tracks := tracker.Update(kept, index)

	out := make([]decision.Record, 0, len(tracks))
	for _, tr := range tracks {
		rec := r.measure(runID, index, tr.ID, tr.Detection)
		out = append(out, rec)
		r.annotate(f, tr.Detection, rec.LengthCm)
	}
	return out, nil
}

func (r *Runner) measure(runID string, frame, fishID uint64, d measure.Detection) decision.Record {
	px := d.LengthPx()
	return decision.Record{
		RunID:      runID,
		Frame:      frame,
		FishID:     fishID,
		Confidence: d.Confidence,
		LengthPx:   px,
		LengthCm:   measure.LengthCm(px, r.cfg.PxPerCm),
	}
}

// annotate failures only affect the overlay, never the measurements.
func (r *Runner) annotate(f frames.Frame, d measure.Detection, lengthCm float64) {
	if r.Annotator == nil {
		return
	}
	if err := r.Annotator.Annotate(f, d, lengthCm); err != nil {
		logf("annotate: %v", err)
	}
}

func (r *Runner) writeCSV(kind report.Kind, runID string, records []decision.Record, mode decision.Mode) (string, error) {
	name := report.CSVName(runID)
	p, err := r.Artifacts.Path(kind, name)
	if err != nil {
		return "", err
	}
	if err := report.WriteCSV(r.Artifacts.FS(), p, records, mode); err != nil {
		return "", fmt.Errorf("write measurements csv: %w", err)
	}
	return report.URL(kind, name), nil
}

// discard removes the artifacts of a run that did not complete.
func (r *Runner) discard(paths ...string) {
	fs := r.Artifacts.FS()
	for _, p := range paths {
		if !fs.Exists(p) {
			continue
		}
		if err := fs.Remove(p); err != nil {
			logf("remove partial artifact %s: %v", p, err)
		}
	}
}

// finish aggregates the run, publishes it as the last summary and stores it.
// A completed run is stored even if ctx was cancelled after the last frame.
func (r *Runner) finish(ctx context.Context, runID string, mode decision.Mode, records []decision.Record) decision.Summary {
	s := r.cfg.Policy.Aggregate(runID, mode, records, r.Clock.Now())
	r.Last.Set(s)
	if r.Store != nil {
		if err := r.Store.RecordRun(context.WithoutCancel(ctx), s, records); err != nil {
			logf("store run %s: %v", runID, err)
		}
	}
	return s
}

func (r *Runner) autoDispatch(ctx context.Context, s decision.Summary) *feeder.Result {
	if r.Dispatcher == nil || !r.cfg.AutoFeed.ShouldDispatch(s) {
		return nil
	}
	res := r.Dispatcher.Dispatch(ctx, s, feeder.SourceAuto)
	return &res
}
