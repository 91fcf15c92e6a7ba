// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-analytics/internal/scheduler"
)

// Jobs lists and triggers scheduled jobs. *scheduler.Registry satisfies it.
type Jobs interface {
	List() []scheduler.JobInfo
	TriggerNow(name string) error
}

// JobsHandler handles the scheduled job routes.
type JobsHandler struct {
	jobs   Jobs
	logger *slog.Logger
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(j Jobs, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{jobs: j, logger: logger}
}

// List handles GET /api/admin/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, _ *http.Request) {
	jobs := h.jobs.List()
	writeSuccess(w, jobs, &Meta{Total: int64(len(jobs))})
}

// Run handles POST /api/admin/jobs/{name}/run.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.jobs.TriggerNow(name)
	switch {
	case err == nil:
		writeSuccess(w, map[string]string{"job": name, "status": "completed"}, nil)
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Job not found")
	case errors.Is(err, scheduler.ErrTriggerLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Job was triggered too recently")
	default:
		h.logger.Error("manual job run failed", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "job_failed", "Job failed")
	}
}
