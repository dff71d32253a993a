package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/dailydrop/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// maxRunApps bounds n_apps on API triggered generation.
const maxRunApps = 1_000_000

// handleHealth reports liveness and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"gate_mode": s.pipeline.GateMode(),
		"runs":      s.pipeline.Limiter().Status(),
	})
}

// handleListTables returns the registered tables in pipeline order.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.pipeline.ListTables())
}

// handleCleanRows returns the clean rows of a table for ?run_date=.
func (s *Server) handleCleanRows(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	runDate := r.URL.Query().Get("run_date")
	if runDate == "" {
		respondError(w, r, badRequest{errors.New("invalid run date \"\": run_date is required")})
		return
	}

	rows, err := s.pipeline.ReadClean(r.Context(), table, runDate)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	render.JSON(w, r, map[string]any{
		"table":    table,
		"run_date": runDate,
		"count":    len(rows),
		"rows":     rows,
	})
}

// handleListRuns returns recent runs; ?limit= defaults to 50.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, r, badRequest{fmt.Errorf("invalid limit %q", v)})
			return
		}
		limit = n
	}

	runs, err := s.pipeline.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, runs)
}

// handleGetRun returns a run with its step log and load statistics.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pipeline.GetRunDetail(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, detail)
}

// runRequest is the body of POST /api/runs.
type runRequest struct {
	RunDate       string `json:"run_date"`
	GateMode      string `json:"gate_mode,omitempty"`
	Generate      bool   `json:"generate,omitempty"`
	NApps         int    `json:"n_apps,omitempty"`
	Seed          *int64 `json:"seed,omitempty"`
	ResumeBatchID string `json:"resume_batch_id,omitempty"`

	gate *core.GateMode
}

// Bind validates the request and fills defaults.
func (req *runRequest) Bind(*http.Request) error {
	if req.RunDate == "" {
		req.RunDate = time.Now().Format(core.RunDateLayout)
	}
	if _, err := time.Parse(core.RunDateLayout, req.RunDate); err != nil {
		return fmt.Errorf("invalid run date %q: want YYYY-MM-DD", req.RunDate)
	}
	if req.GateMode != "" {
		mode, err := core.ParseGateMode(req.GateMode)
		if err != nil {
			return err
		}
		req.gate = &mode
	}
	if req.Generate && (req.NApps <= 0 || req.NApps > maxRunApps) {
		return fmt.Errorf("n_apps must be between 1 and %d when generate is set", maxRunApps)
	}
	if req.Seed == nil {
		seed := int64(42)
		req.Seed = &seed
	}
	return nil
}

func (req *runRequest) options() core.RunOptions {
	return core.RunOptions{
		RunDate:       req.RunDate,
		Generate:      req.Generate,
		NApps:         req.NApps,
		Seed:          *req.Seed,
		GateMode:      req.gate,
		ResumeBatchID: req.ResumeBatchID,
	}
}

// runAccepted is the 202 body of POST /api/runs.
type runAccepted struct {
	BatchID string `json:"batch_id"`
	RunDate string `json:"run_date"`
	Status  string `json:"status"`
	Href    string `json:"href"`
}

// handleTriggerRun starts a run in the background and returns its batch id.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	req := &runRequest{}
	bind := func() error { return render.Bind(r, req) }
	if r.ContentLength == 0 {
		bind = func() error { return req.Bind(r) }
	}
	if err := bind(); err != nil {
		respondError(w, r, badRequest{err})
		return
	}

	batchID, err := s.pipeline.StartRun(withTrigger(r.Context(), r), req.options())
	if err != nil {
		respondError(w, r, err)
		return
	}

	href := "/api/runs/" + batchID
	w.Header().Set("Location", href)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, runAccepted{
		BatchID: batchID,
		RunDate: req.RunDate,
		Status:  "accepted",
		Href:    href,
	})
}

// handleCleanupBatch removes a failed batch's staged rows.
func (s *Server) handleCleanupBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.CleanupBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// handleGetReport returns the stored quality report; ?format=csv selects CSV.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	runDate := chi.URLParam(r, "runDate")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		respondError(w, r, badRequest{fmt.Errorf("invalid report format %q (want json or csv)", format)})
		return
	}

	body, err := s.pipeline.Report(r.Context(), runDate, format)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", core.ReportFileName(runDate)+".csv"))
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
