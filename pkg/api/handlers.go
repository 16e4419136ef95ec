package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"
	"github.com/pulseworks/reviewpulse/pkg/pipeline"
	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/shirou/gopsutil/v4/process"
)

const defaultRunHistoryLimit = 20

// purgeConfirmation is the phrase the caller must echo to purge.
const purgeConfirmation = "purge-all-data"

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// parseDate accepts either a bare calendar day or a full RFC3339 stamp.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}

	return time.Parse(time.RFC3339, value)
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns operational details for the dashboard: active
// run count, database driver and on-disk size, and process memory.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.CountActiveRuns(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"querying active runs"})

		return
	}

	resp := map[string]any{
		"active_runs": active,
		"database": map[string]any{
			"driver": s.cfg.Database.Driver,
		},
	}

	if s.cfg.Database.Driver == "sqlite" {
		if info, err := os.Stat(s.cfg.Database.SQLite.Path); err == nil {
			resp["database"].(map[string]any)["size"] =
				units.HumanSize(float64(info.Size()))
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp["process"] = map[string]any{
				"rss": units.HumanSize(float64(mem.RSS)),
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Run handlers ---

// handleListRuns returns the most recent runs, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"limit must be a positive integer"})

			return
		}

		limit = parsed
	}

	runs, err := s.store.ListRunHistory(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing run history"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns a single run record.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	rec, err := s.store.GetRunLog(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{fmt.Sprintf("run %q not found", runID)})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting run"})

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type triggerRequest struct {
	Force       bool   `json:"force"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// handleTriggerRun records a new run and executes it on a worker
// goroutine so the caller gets an immediate response.
func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	// An empty body triggers a standard weekly run.
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil &&
		!errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	opts := pipeline.Options{
		Force:         req.Force,
		TriggerSource: store.TriggerAPI,
		TriggeredBy:   req.TriggeredBy,
	}

	if req.StartDate != "" {
		t, err := parseDate(req.StartDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid start_date"})

			return
		}

		opts.StartDate = &t
	}

	if req.EndDate != "" {
		t, err := parseDate(req.EndDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid end_date"})

			return
		}

		opts.EndDate = &t
	}

	runID, err := s.pipe.Trigger(r.Context(), opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRan) ||
			errors.Is(err, pipeline.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, errorResponse{err.Error()})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"triggering run"})

		return
	}

	// Execute on a dedicated worker with a fresh context; the run must
	// outlive this request.
	go func() {
		if err := s.pipe.Execute(context.Background(), runID); err != nil {
			s.log.WithError(err).
				WithField("run_id", runID).
				Error("Run execution failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(store.StatusTriggered),
	})
}

// --- Review handlers ---

// handleListReviews returns cached reviews within the requested range.
func (s *server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	startRaw := r.URL.Query().Get("start")
	endRaw := r.URL.Query().Get("end")

	if startRaw == "" || endRaw == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"start and end query parameters are required"})

		return
	}

	start, err := parseDate(startRaw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid start"})

		return
	}

	end, err := parseDate(endRaw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid end"})

		return
	}

	reviews, err := s.store.GetCachedReviews(r.Context(), start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"querying reviews"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(reviews),
		"reviews": reviews,
	})
}

// --- Admin handlers ---

type purgeRequest struct {
	Confirm string `json:"confirm"`
}

// handlePurge deletes all durable state. Refuses while runs are active
// and reports the blocking count so the dashboard can explain itself.
func (s *server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Confirm != purgeConfirmation {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			fmt.Sprintf("confirm must be %q", purgeConfirmation),
		})

		return
	}

	if err := s.store.Purge(r.Context()); err != nil {
		var blocked *store.PurgeBlockedError
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":       blocked.Error(),
				"active_runs": blocked.ActiveRuns,
			})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"purging data"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}
