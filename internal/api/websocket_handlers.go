package api

import (
	"net/http"
)

// HandleWebSocket hands the connection to the sync relay.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.websocket.ServeHTTP(w, r)
}
