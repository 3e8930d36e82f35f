package api

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/banshee-data/tankwatch/internal/fsutil"
	"github.com/banshee-data/tankwatch/internal/httputil"
	"github.com/banshee-data/tankwatch/internal/report"
	"github.com/banshee-data/tankwatch/internal/stream"
)

// Status strings for expected recording state outcomes.
const (
	statusAlreadyRecording = "already_recording"
	statusNotRecording     = "not_recording"
)

func (s *Server) streamLive(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Live == nil {
		httputil.ServiceUnavailable(w, "live stream is disabled")
		return
	}
	s.cfg.Live.ServeHTTP(w, r)
}

func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stream == nil {
		httputil.ServiceUnavailable(w, "live stream is disabled")
		return
	}
	httputil.WriteJSONOK(w, s.cfg.Stream.Status())
}

func artifactResponse(kind report.Kind, a stream.Artifact) map[string]string {
	return map[string]string{
		"status": httputil.StatusOK,
		"file":   a.File,
		"url":    report.URL(kind, a.File),
	}
}

func (s *Server) streamCapture(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stream == nil {
		httputil.ServiceUnavailable(w, "live stream is disabled")
		return
	}
	a, err := s.cfg.Stream.CaptureSnapshot()
	switch {
	case errors.Is(err, stream.ErrNoFrameAvailable):
		httputil.BadRequest(w, "no stream frame available yet")
	case err != nil:
		log.Printf("[api] snapshot failed: %v", err)
		httputil.InternalServerError(w, "snapshot failed")
	default:
		httputil.WriteJSONOK(w, artifactResponse(report.KindSnapshots, a))
	}
}

func (s *Server) streamRecordStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stream == nil {
		httputil.ServiceUnavailable(w, "live stream is disabled")
		return
	}
	a, err := s.cfg.Stream.StartRecording()
	switch {
	case errors.Is(err, stream.ErrAlreadyRecording):
		httputil.WriteStatus(w, statusAlreadyRecording)
	case errors.Is(err, stream.ErrNoFrameAvailable):
		httputil.BadRequest(w, "no stream frame available yet")
	case err != nil:
		log.Printf("[api] start recording failed: %v", err)
		httputil.InternalServerError(w, "start recording failed")
	default:
		httputil.WriteJSONOK(w, artifactResponse(report.KindRecordings, a))
	}
}

func (s *Server) streamRecordStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stream == nil {
		httputil.ServiceUnavailable(w, "live stream is disabled")
		return
	}
	a, err := s.cfg.Stream.StopRecording()
	switch {
	case errors.Is(err, stream.ErrNotRecording):
		httputil.WriteStatus(w, statusNotRecording)
	case err != nil:
		// the sink is released even when finalising fails
		log.Printf("[api] stop recording: %v", err)
		httputil.InternalServerError(w, "recording stopped with errors")
	default:
		httputil.WriteJSONOK(w, artifactResponse(report.KindRecordings, a))
	}
}

var contentTypes = map[string]string{
	".png": "image/png",
	".jpg": "image/jpeg",
	".csv": "text/csv; charset=utf-8",
	".mp4": "video/mp4",
}

// serveArtifact serves generated files. Resolve rejects unknown kinds and
// names that escape the kind directory.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.cfg.Artifacts.Resolve(vars["kind"], vars["name"])
	if err != nil {
		httputil.NotFound(w, "artifact not found")
		return
	}
	if ct, ok := contentTypes[filepath.Ext(p)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	if _, ok := s.cfg.Artifacts.FS().(fsutil.OSFileSystem); ok {
		// ServeFile handles range requests for video playback
		http.ServeFile(w, r, p)
		return
	}
	data, err := s.cfg.Artifacts.FS().ReadFile(p)
	if err != nil {
		httputil.NotFound(w, "artifact not found")
		return
	}
	w.Header().Set("Content-Disposition", "inline; filename="+filepath.Base(p))
	if _, err := w.Write(data); err != nil {
		log.Printf("[api] write artifact: %v", err)
	}
}
