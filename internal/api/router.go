package api

import (
	"github.com/reportcollab/collabd/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing, recovery, CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Report endpoints
	api.HandleFunc("/reports", h.CreateReport).Methods("POST")
	api.HandleFunc("/reports", h.ListReports).Methods("GET")
	api.HandleFunc("/reports/{id}", h.GetReport).Methods("GET")
	api.HandleFunc("/reports/{id}", h.UpdateReport).Methods("PUT")
	api.HandleFunc("/reports/{id}", h.DeleteReport).Methods("DELETE")

	// Collaborative history endpoints
	collab := api.PathPrefix("/collaborative").Subrouter()
	collab.HandleFunc("/history/{reportId}", h.GetHistory).Methods("GET")
	collab.HandleFunc("/history/{reportId}/field/{fieldPath}", h.GetFieldHistory).Methods("GET")
	collab.HandleFunc("/rollback", h.Rollback).Methods("POST")
	collab.HandleFunc("/operations/{reportId}", h.GetOperations).Methods("GET")
	collab.HandleFunc("/operation", h.SubmitOperation).Methods("POST")
	collab.HandleFunc("/editors/{reportId}", h.GetEditors).Methods("GET")
	collab.HandleFunc("/cleanup", h.Cleanup).Methods("POST")

	// Version endpoints. Fixed segments are registered before {reportId}.
	versions := api.PathPrefix("/report-versions").Subrouter()
	versions.HandleFunc("/version/{versionId}", h.GetVersion).Methods("GET")
	versions.HandleFunc("/restore", h.RestoreVersion).Methods("POST")
	versions.HandleFunc("/compare/{versionId1}/{versionId2}", h.CompareVersions).Methods("GET")
	versions.HandleFunc("/{reportId}/diff/{versionId}", h.DiffWithCurrent).Methods("GET")
	versions.HandleFunc("/{reportId}", h.ListVersions).Methods("GET")
	versions.HandleFunc("/{reportId}", h.CreateVersion).Methods("POST")

	api.HandleFunc("/health", h.Health).Methods("GET")

	// WebSocket transport
	r.HandleFunc("/ws", h.HandleWebSocket)

	return r
}
