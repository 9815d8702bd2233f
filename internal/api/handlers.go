package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/reportcollab/collabd/internal/middleware"
	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/repository"
	"github.com/reportcollab/collabd/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const defaultReportPageSize = 50

// Handler handles HTTP requests
type Handler struct {
	reports    ReportStore
	journal    JournalService
	versions   VersionService
	presence   PresenceService
	notifier   services.Notifier
	websocket  http.Handler
	staleAfter time.Duration
	logger     zerolog.Logger
}

func NewHandler(
	reports ReportStore,
	journal JournalService,
	versions VersionService,
	presence PresenceService,
	notifier services.Notifier,
	websocket http.Handler,
	staleAfter time.Duration,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		reports:    reports,
		journal:    journal,
		versions:   versions,
		presence:   presence,
		notifier:   notifier,
		websocket:  websocket,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// fail maps a service error to a status code. Server-side failures are
// logged with the request id and reported with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, services.ErrPathConflict):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, services.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	middleware.AddSpanError(r.Context(), err)
	h.logger.Error().Err(err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg(message)
	writeError(w, http.StatusInternalServerError, message)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// queryTime accepts RFC 3339 timestamps and plain dates.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New(key + " must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
}

// Report handlers

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var in models.ReportCreate
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.reports.Create(r.Context(), &in)
	if err != nil {
		h.fail(w, r, err, "failed to create report")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultReportPageSize)
	if limit <= 0 {
		limit = defaultReportPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	reports, err := h.reports.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []*models.Report{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err, "failed to get report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	var update models.ReportUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.reports.Update(r.Context(), mux.Vars(r)["id"], &update)
	if err != nil {
		h.fail(w, r, err, "failed to update report")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err, "failed to delete report")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"currentSequence": h.journal.CurrentSequence(),
	})
}
