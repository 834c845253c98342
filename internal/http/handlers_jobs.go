// Package httpx exposes the task manager job API over HTTP.
package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
	"github.com/target/taskmanager-api/internal/service"
)

// JobHandlers provides HTTP handlers for job submission and polling.
type JobHandlers struct {
	Svc    *service.JobService
	Logger *slog.Logger
	// ReadyStatusCreated answers polls of finished artifact jobs with
	// 201 Created and a Location header instead of 200.
	ReadyStatusCreated bool
}

// SubmitResponse is returned for every accepted submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// StartCountdown handles POST /api/countdown with a {"seconds": N} body.
func (h *JobHandlers) StartCountdown(w http.ResponseWriter, r *http.Request) {
	params, ok := readParams(w, r)
	if !ok {
		return
	}
	h.submit(w, r, model.JobKindCountdown, params)
}

// NotifyAssignee handles POST /api/tasks/{id}/notify.
func (h *JobHandlers) NotifyAssignee(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeServiceError(w, r, h.Logger, apperrors.ValidationField("task_id", "must be an integer"))
		return
	}
	params, err := json.Marshal(map[string]int64{"task_id": taskID})
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	h.submit(w, r, model.JobKindAssignNotification, params)
}

// Submit handles POST /api/jobs/{kind}; the body is the job parameters.
func (h *JobHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	params, ok := readParams(w, r)
	if !ok {
		return
	}
	h.submit(w, r, model.JobKind(r.PathValue("kind")), params)
}

func (h *JobHandlers) submit(w http.ResponseWriter, r *http.Request, kind model.JobKind, params json.RawMessage) {
	job, err := h.Svc.Submit(r.Context(), kind, params)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	w.Header().Set("Location", jobPath(job.ID))
	WriteJSON(w, http.StatusCreated, SubmitResponse{TaskID: job.ID})
}

func jobPath(id string) string {
	return fmt.Sprintf("/jobs/%s", id)
}

// Status handles GET /jobs/{task_id}.
func (h *JobHandlers) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Resolve(r.Context(), r.PathValue("task_id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if !view.Found() {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found"})
		return
	}
	if view.Ready && h.ReadyStatusCreated {
		w.Header().Set("Location", view.Location)
		WriteJSON(w, http.StatusCreated, view)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// StatsResponse wraps job counts with the kind they were computed for.
type StatsResponse struct {
	Kind model.JobKind `json:"kind,omitempty"`
	model.JobStats
	Total int `json:"total"`
}

// Stats handles GET /api/jobs/stats with an optional ?kind= filter.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	kind := model.JobKind(r.URL.Query().Get("kind"))
	stats, err := h.Svc.Stats(r.Context(), kind)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, StatsResponse{Kind: kind, JobStats: *stats, Total: stats.Total()})
}

// Kinds handles GET /api/jobs/kinds.
func (h *JobHandlers) Kinds(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string][]model.JobKind{"kinds": h.Svc.Kinds()})
}
