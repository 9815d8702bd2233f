package api

import (
	"net/http"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/services"

	"github.com/gorilla/mux"
)

// Version endpoints

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
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

	page, err := h.versions.ListVersions(r.Context(), mux.Vars(r)["reportId"], services.VersionQuery{
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
		All:      r.URL.Query().Get("all") == "true",
		DateFrom: dateFrom,
		DateTo:   dateTo,
	})
	if err != nil {
		h.fail(w, r, err, "failed to get versions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"versions": page.Versions,
		"total":    page.Total,
		"hasMore":  page.HasMore,
	})
}

type createVersionRequest struct {
	UserIDs   []string `json:"userIds"`
	UserNames []string `json:"userNames"`
}

func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	reportID := mux.Vars(r)["reportId"]

	version, err := h.versions.CreateVersion(r.Context(), reportID, req.UserIDs, req.UserNames, false)
	if err != nil {
		h.fail(w, r, err, "failed to create version")
		return
	}
	if version == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	h.notifier.Notify(reportID, models.EventVersionCreated, models.VersionCreatedPayload{
		VersionID:        version.ID,
		VersionNumber:    version.VersionNumber,
		ContributorNames: version.ContributorNames,
		IsAutoSave:       false,
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"version": version,
	})
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.versions.GetVersion(r.Context(), mux.Vars(r)["versionId"])
	if err != nil {
		h.fail(w, r, err, "failed to get version")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"version": version,
	})
}

type restoreRequest struct {
	VersionID   string `json:"versionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.VersionID == "" || req.UserID == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: versionId, userId, displayName")
		return
	}

	result, err := h.versions.RestoreVersion(r.Context(), req.VersionID, req.UserID, req.DisplayName)
	if err != nil {
		h.fail(w, r, err, "failed to restore version")
		return
	}

	h.notifier.Notify(result.DocumentID, models.EventVersionRestored, models.VersionRestoredPayload{
		VersionNumber: result.RestoredVersion,
		UserID:        req.UserID,
		DisplayName:   req.DisplayName,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"restoredVersion": result.RestoredVersion,
		"backup":          result.Backup,
	})
}

func (h *Handler) DiffWithCurrent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	diff, err := h.versions.DiffWithCurrent(r.Context(), vars["reportId"], vars["versionId"])
	if err != nil {
		h.fail(w, r, err, "failed to diff version")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"version": diff.From,
		"diff":    diff.Diff,
	})
}

func (h *Handler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	diff, err := h.versions.CompareVersions(r.Context(), vars["versionId1"], vars["versionId2"])
	if err != nil {
		h.fail(w, r, err, "failed to compare versions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"version1": diff.From,
		"version2": diff.To,
		"diff":     diff.Diff,
	})
}
