package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/services"

	"github.com/gorilla/mux"
)

// Collaborative history endpoints

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	dateFrom, err := queryTime(r, "dateFrom")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dateTo, err := queryTime(r, "dateTo")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	page, err := h.journal.ListPaged(r.Context(), mux.Vars(r)["reportId"], services.HistoryQuery{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "pageSize", 0),
		Filter: models.OperationFilter{
			UserID:    q.Get("userId"),
			FieldPath: q.Get("fieldPath"),
			DateFrom:  dateFrom,
			DateTo:    dateTo,
		},
	})
	if err != nil {
		h.fail(w, r, err, "failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"operations": page.Operations,
		"users":      page.Users,
		"pagination": page.Pagination,
	})
}

func (h *Handler) GetFieldHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ops, err := h.journal.FieldHistory(r.Context(), vars["reportId"], vars["fieldPath"], queryInt(r, "limit", 0))
	if err != nil {
		h.fail(w, r, err, "failed to get field history")
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"operations": ops,
	})
}

type rollbackRequest struct {
	OperationID string `json:"operationId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OperationID == "" || req.UserID == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: operationId, userId, displayName")
		return
	}

	result, err := h.journal.Rollback(r.Context(), req.OperationID, req.UserID, req.DisplayName)
	if err != nil {
		h.fail(w, r, err, "failed to roll back change")
		return
	}

	if result.Applied {
		h.notifier.Notify(result.DocumentID, models.EventFieldRollback, models.FieldRollbackPayload{
			FieldPath:     result.FieldPath,
			RestoredValue: result.RestoredValue,
			UserID:        req.UserID,
			DisplayName:   req.DisplayName,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"applied":       result.Applied,
		"fieldPath":     result.FieldPath,
		"restoredValue": result.RestoredValue,
		"operation":     result.Operation,
	})
}

func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("sinceSequence"), 10, 64)
	if err != nil || since < 0 {
		since = 0
	}

	ops, err := h.journal.ListSince(r.Context(), mux.Vars(r)["reportId"], since, queryInt(r, "limit", 0))
	if err != nil {
		h.fail(w, r, err, "failed to get operations")
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"operations":      ops,
		"currentSequence": h.journal.CurrentSequence(),
	})
}

type operationRequest struct {
	ReportID    string `json:"reportId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	FieldPath   string `json:"fieldPath"`
	OldValue    any    `json:"oldValue"`
	NewValue    any    `json:"newValue"`
}

// SubmitOperation records a field change and applies it to the report. An
// operation that was recorded but could not be applied is returned with
// success=false.
func (h *Handler) SubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ReportID == "" || req.UserID == "" || req.FieldPath == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: reportId, userId, fieldPath")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}

	op, err := h.journal.Submit(r.Context(), services.RecordInput{
		DocumentID:  req.ReportID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		FieldPath:   req.FieldPath,
		OldValue:    req.OldValue,
		NewValue:    req.NewValue,
	})
	if err != nil && (op == nil || !errors.Is(err, services.ErrPathConflict)) {
		h.fail(w, r, err, "failed to submit operation")
		return
	}

	body := map[string]interface{}{
		"success":         op.Applied,
		"operation":       op,
		"currentSequence": h.journal.CurrentSequence(),
	}
	if err != nil {
		body["error"] = err.Error()
	}

	if op.Applied {
		h.notifier.Notify(op.DocumentID, models.EventFieldUpdated, models.FieldUpdatedPayload{
			UserID:      op.UserID,
			DisplayName: op.DisplayName,
			FieldPath:   op.FieldPath,
			NewValue:    op.NewValue,
			Sequence:    op.SequenceNumber,
		})
	}

	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) GetEditors(w http.ResponseWriter, r *http.Request) {
	editors := h.presence.Editors(mux.Vars(r)["reportId"])

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"editors": editors,
		"count":   len(editors),
	})
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed := h.presence.SweepStale(h.staleAfter)

	h.logger.Info().Int("removed", removed).Msg("manual presence cleanup")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"cleanedSessions": removed,
	})
}
