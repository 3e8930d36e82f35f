// Package api serves the HTTP surface: analysis uploads, the manual feed
// trigger, run history, live stream control and artifact downloads.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/banshee-data/tankwatch/internal/analysis"
	"github.com/banshee-data/tankwatch/internal/db"
	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/feeder"
	"github.com/banshee-data/tankwatch/internal/report"
	"github.com/banshee-data/tankwatch/internal/stream"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultMaxUploadBytes bounds a single uploaded image or video.
const DefaultMaxUploadBytes = 512 << 20

// Analyzer runs image and video analyses.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, path string) (analysis.ImageResult, error)
	AnalyzeVideo(ctx context.Context, path string) (analysis.VideoResult, error)
}

// StreamControl is the live session as seen by the HTTP layer.
type StreamControl interface {
	CaptureSnapshot() (stream.Artifact, error)
	StartRecording() (stream.Artifact, error)
	StopRecording() (stream.Artifact, error)
	Status() stream.Status
}

// Dispatcher sends feed commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, s decision.Summary, source feeder.Source) feeder.Result
}

// RunStore is the read side of the run database.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]decision.Summary, error)
	Run(ctx context.Context, runID string) (decision.Summary, error)
	RunMeasurements(ctx context.Context, runID string) ([]decision.Record, error)
	FeedCommands(ctx context.Context, limit int) ([]db.FeedCommandRow, error)
}

// Config wires a Server. Every collaborator except Artifacts and Last is
// optional; routes whose collaborator is missing answer 503.
type Config struct {
	Analyzer   Analyzer
	Last       *decision.LastSummary
	Dispatcher Dispatcher
	Stream     StreamControl
	Live       http.Handler
	Runs       RunStore
	Artifacts  *report.ArtifactStore
	// MaxUploadBytes defaults to DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// Shutdown, when set, is cancelled as the process stops. Analysis runs
	// outlive their request and only stop early on Shutdown.
	Shutdown context.Context
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Last == nil {
		cfg.Last = &decision.LastSummary{}
	}
	return &Server{cfg: cfg}
}

// Router builds the gorilla/mux router for every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/analyze-image", s.analyzeImage).Methods(http.MethodPost)
	r.HandleFunc("/api/analyze-video", s.analyzeVideo).Methods(http.MethodPost)
	r.HandleFunc("/api/feed-now", s.feedNow).Methods(http.MethodPost)
	r.HandleFunc("/api/summary", s.showSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/version", s.showVersion).Methods(http.MethodGet)

	r.HandleFunc("/api/runs", s.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/chart", s.runsChart).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}", s.showRun).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/histogram.png", s.runHistogram).Methods(http.MethodGet)
	r.HandleFunc("/api/feed/commands", s.listFeedCommands).Methods(http.MethodGet)

	r.HandleFunc("/stream/live", s.streamLive).Methods(http.MethodGet)
	r.HandleFunc("/stream/status", s.streamStatus).Methods(http.MethodGet)
	r.HandleFunc("/stream/capture", s.streamCapture).Methods(http.MethodPost)
	r.HandleFunc("/stream/record-start", s.streamRecordStart).Methods(http.MethodPost)
	r.HandleFunc("/stream/record-stop", s.streamRecordStop).Methods(http.MethodPost)

	r.HandleFunc("/artifacts/{kind}/{name}", s.serveArtifact).Methods(http.MethodGet)
	return r
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the MJPEG stream flowing through the middleware.
func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, URI, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
