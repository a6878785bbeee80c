package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/cron"
	"github.com/0xPuncker/flow-scheduler/internal/dispatch"
	"github.com/0xPuncker/flow-scheduler/internal/store"
	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	scheduler *cron.Scheduler
	trigger   cron.TriggerFunc
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger
}

type JobsResponse struct {
	Jobs        []cron.JobStatus `json:"jobs"`
	ArmedJobs   int              `json:"armed_jobs"`
	Running     bool             `json:"running"`
	PendingSync bool             `json:"pending_sync"`
	LastUpdated time.Time        `json:"last_updated"`
}

// NewHandler serves the admin API. trigger starts a workflow run, both for
// scheduled jobs and for manual triggers. gatherer may be nil.
func NewHandler(scheduler *cron.Scheduler, trigger cron.TriggerFunc, gatherer prometheus.Gatherer, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		scheduler: scheduler,
		trigger:   trigger,
		gatherer:  gatherer,
		logger:    logger,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Jobs()
	h.writeJSON(w, http.StatusOK, JobsResponse{
		Jobs:        jobs,
		ArmedJobs:   len(jobs),
		Running:     h.scheduler.IsRunning(),
		PendingSync: h.scheduler.PendingFlush(),
		LastUpdated: time.Now(),
	})
}

func (h *Handler) ScheduleJob(w http.ResponseWriter, r *http.Request) {
	var def types.JobDefinition
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&def); err != nil {
		h.handleError(w, fmt.Errorf("invalid job definition: %w", err), http.StatusBadRequest)
		return
	}
	def.Engine = def.Engine.Normalize()
	if err := validate(def); err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}

	err := h.scheduler.ScheduleJob(def, h.trigger)
	var parseErr *cron.ScheduleParseError
	var writeErr *store.WriteError
	switch {
	case err == nil:
	case errors.As(err, &parseErr):
		h.handleError(w, err, http.StatusBadRequest)
		return
	case errors.As(err, &writeErr):
		h.handleError(w, fmt.Errorf("job armed but not saved: %w", err), http.StatusInternalServerError)
		return
	default:
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"key":    def.Key().String(),
		"status": "scheduled",
	})
}

func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	engine := types.Engine(vars["engine"]).Normalize()
	workflowID := vars["workflowId"]

	if err := h.scheduler.RemoveJob(workflowID, engine); err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"key":    types.NewJobKey(engine, workflowID).String(),
		"status": "removed",
	})
}

// TriggerJob runs a workflow once, outside of any schedule. The request body,
// if any, is the input payload.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && !json.Valid(body) {
		h.handleError(w, errors.New("input payload is not valid JSON"), http.StatusBadRequest)
		return
	}

	job := types.JobDefinition{
		WorkflowID:   vars["workflowId"],
		Engine:       types.Engine(vars["engine"]).Normalize(),
		InputPayload: json.RawMessage(body),
	}

	if err := h.trigger(r.Context(), job); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, dispatch.ErrEngineNotConfigured) {
			code = http.StatusBadRequest
		}
		h.handleError(w, err, code)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"key":    job.Key().String(),
		"status": "triggered",
	})
}

func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(); err != nil {
		h.handleError(w, err, http.StatusConflict)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "scheduler started successfully",
	})
}

func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "scheduler stopped successfully",
	})
}

func validate(def types.JobDefinition) error {
	switch {
	case def.WorkflowID == "":
		return errors.New("workflowId is required")
	case def.Engine == "":
		return errors.New("engine is required")
	case def.Schedule == "":
		return errors.New("schedule is required")
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	if code >= http.StatusInternalServerError {
		h.logger.Error(err)
	} else {
		h.logger.Debug(err)
	}
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}
