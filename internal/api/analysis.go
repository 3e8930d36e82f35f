package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/banshee-data/tankwatch/internal/analysis"
	"github.com/banshee-data/tankwatch/internal/feeder"
	"github.com/banshee-data/tankwatch/internal/httputil"
	"github.com/banshee-data/tankwatch/internal/report"
)

// saveUpload stores the multipart file under field in the uploads directory
// and returns its path. The client file name only contributes a sanitised
// base name.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, field string) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("missing %q file: %w", field, err)
	}
	defer file.Close()

	p, err := s.cfg.Artifacts.Path(report.KindUploads, report.UploadName(header.Filename))
	if err != nil {
		return "", err
	}
	out, err := s.cfg.Artifacts.FS().Create(p)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		s.removeUpload(p)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		s.removeUpload(p)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return p, nil
}

// removeUpload deletes an upload once its run has finished. The annotated
// artifacts and CSV are what a run keeps.
func (s *Server) removeUpload(path string) {
	if err := s.cfg.Artifacts.FS().Remove(path); err != nil {
		log.Printf("[api] remove upload %s: %v", path, err)
	}
}

// runContext detaches an analysis run from its request so a client that
// disconnects does not abort it. Config.Shutdown still stops it between frames.
func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if s.cfg.Shutdown == nil {
		return ctx, cancel
	}
	if s.cfg.Shutdown.Err() != nil {
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(s.cfg.Shutdown, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, analysis.ErrInputUnreadable) {
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	log.Printf("[api] analysis failed: %v", err)
	httputil.InternalServerError(w, "analysis failed")
}

type imageResponse struct {
	Status string `json:"status"`
	analysis.ImageResult
}

func (s *Server) analyzeImage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Analyzer == nil {
		httputil.ServiceUnavailable(w, "analysis is disabled")
		return
	}
	path, err := s.saveUpload(w, r, "image")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	defer s.removeUpload(path)
	ctx, cancel := s.runContext(r)
	defer cancel()
	res, err := s.cfg.Analyzer.AnalyzeImage(ctx, path)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	httputil.WriteJSONOK(w, imageResponse{Status: httputil.StatusOK, ImageResult: res})
}

type videoResponse struct {
	Status    string `json:"status"`
	RunID     string `json:"run_id"`
	TotalLogs int    `json:"total_logs"`
	analysis.VideoResult
}

func (s *Server) analyzeVideo(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Analyzer == nil {
		httputil.ServiceUnavailable(w, "analysis is disabled")
		return
	}
	path, err := s.saveUpload(w, r, "video")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	defer s.removeUpload(path)
	ctx, cancel := s.runContext(r)
	defer cancel()
	res, err := s.cfg.Analyzer.AnalyzeVideo(ctx, path)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	httputil.WriteJSONOK(w, videoResponse{
		Status:      httputil.StatusOK,
		RunID:       res.Summary.RunID,
		TotalLogs:   len(res.Records),
		VideoResult: res,
	})
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.cfg.Last.Get()
	if !ok {
		httputil.NotFound(w, "no analysis has run yet")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  httputil.StatusOK,
		"summary": summary,
	})
}

func (s *Server) feedNow(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Dispatcher == nil {
		httputil.ServiceUnavailable(w, "feeder is disabled")
		return
	}
	summary, ok := s.cfg.Last.Get()
	if !ok {
		httputil.BadRequest(w, "no analysis has run yet")
		return
	}
	res := s.cfg.Dispatcher.Dispatch(r.Context(), summary, feeder.SourceManual)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":              httputil.StatusOK,
		"run_id":              summary.RunID,
		"num_fish":            summary.NumFish,
		"feeding_turns":       summary.FeedingTurns,
		"feeding_duration_ms": summary.FeedingDurationMs,
		"feeding_gap_ms":      summary.FeedingGapMs,
		"dispatch":            res,
	})
}
