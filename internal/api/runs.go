package api

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/banshee-data/tankwatch/internal/db"
	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/httputil"
	"github.com/banshee-data/tankwatch/internal/report"
	"github.com/banshee-data/tankwatch/internal/units"
	"github.com/banshee-data/tankwatch/internal/version"
)

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Current())
}

// limitParam parses ?limit=, defaulting to db.DefaultListLimit.
func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return db.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return n, nil
}

// unitsParam parses ?units=, defaulting to centimetres.
func unitsParam(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return units.CM, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter: must be one of %s", units.GetValidUnitsString())
	}
	return u, nil
}

func convertSummary(sum decision.Summary, u string) decision.Summary {
	sum.MinLengthCm = units.ConvertLength(sum.MinLengthCm, u)
	sum.MaxLengthCm = units.ConvertLength(sum.MaxLengthCm, u)
	sum.AvgLengthCm = units.ConvertLength(sum.AvgLengthCm, u)
	return sum
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		httputil.ServiceUnavailable(w, "run history is disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	u, err := unitsParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.cfg.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	for i := range runs {
		runs[i] = convertSummary(runs[i], u)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status": httputil.StatusOK,
		"units":  u,
		"runs":   runs,
	})
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (decision.Summary, []decision.Record, bool) {
	if s.cfg.Runs == nil {
		httputil.ServiceUnavailable(w, "run history is disabled")
		return decision.Summary{}, nil, false
	}
	id := mux.Vars(r)["id"]
	run, err := s.cfg.Runs.Run(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, fmt.Sprintf("run %s not found", id))
		return run, nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load run: %v", err))
		return run, nil, false
	}
	records, err := s.cfg.Runs.RunMeasurements(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load measurements: %v", err))
		return run, nil, false
	}
	return run, records, true
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	u, err := unitsParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	run, records, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	for i := range records {
		records[i].LengthCm = units.ConvertLength(records[i].LengthCm, u)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  httputil.StatusOK,
		"units":   u,
		"summary": convertSummary(run, u),
		"records": records,
	})
}

func (s *Server) runHistogram(w http.ResponseWriter, r *http.Request) {
	run, records, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	png, err := report.LengthHistogram("Fish length, run "+run.RunID, records)
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, "run has no measurements")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render histogram: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		log.Printf("[api] write histogram: %v", err)
	}
}

func (s *Server) runsChart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		httputil.ServiceUnavailable(w, "run history is disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.cfg.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	// oldest first reads left to right
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	var buf bytes.Buffer
	if err := report.RunsChart(&buf, runs); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) listFeedCommands(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		httputil.ServiceUnavailable(w, "run history is disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cmds, err := s.cfg.Runs.FeedCommands(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list feed commands: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":   httputil.StatusOK,
		"commands": cmds,
	})
}
