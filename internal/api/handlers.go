package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ondemand-ai/browser-agent/internal/llm"
	"github.com/ondemand-ai/browser-agent/internal/ratelimit"
	"github.com/ondemand-ai/browser-agent/internal/run"
)

const Version = "1.0.0"

// Executor is the run controller as the API sees it.
type Executor interface {
	Execute(ctx context.Context, req run.Request) (*run.Run, error)
}

// Handler holds the dependencies of all HTTP handlers.
type Handler struct {
	exec        Executor
	store       *run.Store
	limiter     *ratelimit.Limiter
	sem         *semaphore.Weighted
	maxSteps    int
	artifactDir string
	log         *zap.Logger
}

func NewHandler(exec Executor, store *run.Store, limiter *ratelimit.Limiter, maxConcurrent int64, maxSteps int, artifactDir string, log *zap.Logger) *Handler {
	return &Handler{
		exec:        exec,
		store:       store,
		limiter:     limiter,
		sem:         semaphore.NewWeighted(maxConcurrent),
		maxSteps:    maxSteps,
		artifactDir: artifactDir,
		log:         log,
	}
}

// RunRequest is the POST /agent/run payload.
type RunRequest struct {
	Prompt   string `json:"prompt"`
	MaxSteps int    `json:"max_steps,omitempty"`
	Model    string `json:"model,omitempty"`
	Engine   string `json:"engine,omitempty"`
}

// RunAgent handles POST /agent/run. The response is always 200 with a
// structured status for any terminal outcome, including failed runs; only
// malformed requests and pre-allocation rejections surface as 4xx.
func (h *Handler) RunAgent(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.MaxSteps < 0 || req.MaxSteps > h.maxSteps {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("max_steps must be between 1 and %d", h.maxSteps))
		return
	}
	if req.Engine != "" && req.Engine != "standard" && req.Engine != "stealth" {
		writeError(w, http.StatusBadRequest, "engine must be \"standard\" or \"stealth\"")
		return
	}

	if !h.sem.TryAcquire(1) {
		writeError(w, http.StatusServiceUnavailable, "too many concurrent runs, try again later")
		return
	}
	defer h.sem.Release(1)

	result, err := h.exec.Execute(r.Context(), run.Request{
		Prompt:   req.Prompt,
		MaxSteps: req.MaxSteps,
		Model:    req.Model,
		Engine:   req.Engine,
	})
	if err != nil {
		// Model resolution fails before any browser allocation; the client
		// gets a 4xx instead of a run transcript.
		if errors.Is(err, llm.ErrUnknownModel) || errors.Is(err, llm.ErrCredentialMissing) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.log.Error("run rejected", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run.Assemble(result))
}

// GetRun handles GET /agent/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stored, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// ListRuns handles GET /agent/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
