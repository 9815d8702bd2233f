package collaboration

import (
	"context"
	"net/http"

	"github.com/reportcollab/collabd/internal/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// authentication and origin policy live in front of this service
		return true
	},
}

// WebSocketHandler upgrades connections and hands them to the relay. Joining
// a document happens with the join event, not at upgrade time.
type WebSocketHandler struct {
	relay  *Relay
	logger zerolog.Logger
}

func NewWebSocketHandler(relay *Relay, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		relay:  relay,
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := uuid.NewString()

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("connection.id", connectionID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("websocket upgrade failed")
		middleware.AddSpanError(ctx, err)
		return
	}

	client := NewClient(connectionID, conn)
	h.relay.Connect(client)

	// the request context ends when this handler returns
	connCtx := context.WithoutCancel(ctx)
	go client.WritePump()
	go client.ReadPump(connCtx, h.relay)

	h.logger.Info().
		Str("connection_id", connectionID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")
}
