package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/listings-etl/internal/audit"
	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/pipeline"
	"github.com/listings-etl/internal/resolve"
)

// Runner executes one transform.
type Runner interface {
	Run(ctx context.Context, input, output string, cfg *config.Config) (pipeline.RunSummary, error)
}

// History reads recorded runs back.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]audit.RunRecord, error)
	Clusters(ctx context.Context, runID string) ([]resolve.Entry, error)
}

// RunsHandler triggers runs and reports on them. Only one run executes at
// a time; a trigger while another is in flight gets 409.
type RunsHandler struct {
	Runner  Runner
	Config  *config.Config
	History History
	Logger  *zap.Logger

	running sync.Mutex
	mu      sync.Mutex
	last    *pipeline.RunSummary
}

// RunRequest is the body of a trigger. Empty paths fall back to the
// configured ones; others must resolve inside the server's data directory.
type RunRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Health reports liveness.
func (h *RunsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TriggerRun runs the transform synchronously and returns its summary.
func (h *RunsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	input, err := h.requestPath(req.Input, h.Config.InputPath)
	if err != nil {
		writeError(w, http.StatusForbidden, "input: "+err.Error())
		return
	}
	output, err := h.requestPath(req.Output, h.Config.OutputPath)
	if err != nil {
		writeError(w, http.StatusForbidden, "output: "+err.Error())
		return
	}

	if !h.running.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer h.running.Unlock()

	summary, err := h.Runner.Run(r.Context(), input, output, h.Config)
	if err != nil {
		h.logger().Error("triggered run failed", zap.String("run_id", summary.RunID), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.mu.Lock()
	h.last = &summary
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, summary)
}

// LastRun returns the summary of the last successful run served by this
// process.
func (h *RunsHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()

	if last == nil {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// ListRuns returns recorded runs, newest first.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotFound, "run audit is not enabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.History.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if runs == nil {
		runs = []audit.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunClusters returns the dedup clusters of a recorded run.
func (h *RunsHandler) RunClusters(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotFound, "run audit is not enabled")
		return
	}

	clusters, err := h.History.Clusters(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.logger().Error("list clusters", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if clusters == nil {
		clusters = []resolve.Entry{}
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (h *RunsHandler) requestPath(requested, fallback string) (string, error) {
	if requested == "" {
		return fallback, nil
	}
	return resolveDataPath(h.Config.Server.DataDir, requested)
}

func (h *RunsHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// statusFor maps run errors onto HTTP statuses: problems with the request
// or its input are the caller's, everything else is ours.
func statusFor(err error) int {
	var cfgErr *etlerr.ConfigurationError
	var schemaErr *etlerr.SchemaMismatchError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
