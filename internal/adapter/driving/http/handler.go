// Package httphandler serves the read-mostly JSON status API.
package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/commitcast/internal/application"
	"github.com/ericfisherdev/commitcast/internal/domain/model"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

const (
	defaultAnnouncementLimit = 20
	maxAnnouncementLimit     = 200
)

// Monitor is the subset of the monitor service the API exposes.
type Monitor interface {
	State() model.MonitorState
	Targets() []model.RepositoryTarget
	Statuses() []model.TargetStatus
	PollNow(ctx context.Context) application.CycleResult
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	monitor       Monitor
	announcements driven.AnnouncementStore
	logger        *slog.Logger
}

// NewHandler creates a Handler. announcements may be nil when the
// announcement log is disabled.
func NewHandler(monitor Monitor, announcements driven.AnnouncementStore, logger *slog.Logger) *Handler {
	return &Handler{
		monitor:       monitor,
		announcements: announcements,
		logger:        logger,
	}
}

// healthPath is polled by the container healthcheck.
const healthPath = "/api/v1/health"

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, h.Health)
	mux.HandleFunc("GET /api/v1/targets", h.ListTargets)
	mux.HandleFunc("GET /api/v1/announcements", h.ListAnnouncements)
	mux.HandleFunc("POST /api/v1/poll", h.Poll)

	// Panics are recovered inside the access log so the 500 is still logged.
	return accessLog(logger, recoverPanics(logger, mux))
}

// Health reports liveness and the monitor's lifecycle state.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		State:  string(h.monitor.State()),
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListTargets returns every configured target with its watermark and last
// poll outcome, in configuration order.
func (h *Handler) ListTargets(w http.ResponseWriter, _ *http.Request) {
	targets := h.monitor.Targets()
	statuses := h.monitor.Statuses()

	resp := make([]TargetResponse, 0, len(targets))
	for i, target := range targets {
		status := model.TargetStatus{Slug: target.Slug()}
		if i < len(statuses) {
			status = statuses[i]
		}
		resp = append(resp, toTargetResponse(target, status))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListAnnouncements returns the most recent announced commits, optionally
// filtered to one target with ?slug=owner/name@branch.
func (h *Handler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	if h.announcements == nil {
		writeError(w, http.StatusNotFound, "announcement log is disabled")
		return
	}

	limit := defaultAnnouncementLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAnnouncementLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxAnnouncementLimit))
			return
		}
		limit = n
	}

	var (
		announcements []model.Announcement
		err           error
	)
	if slug := r.URL.Query().Get("slug"); slug != "" {
		announcements, err = h.announcements.ListBySlug(r.Context(), slug, limit)
	} else {
		announcements, err = h.announcements.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("failed to list announcements", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AnnouncementResponse, 0, len(announcements))
	for _, a := range announcements {
		resp = append(resp, toAnnouncementResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Poll runs one poll cycle immediately and returns its summary once every
// target has finished.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.PollNow(r.Context())
	writeJSON(w, http.StatusOK, toPollResponse(result))
}
