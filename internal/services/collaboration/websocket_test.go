package collaboration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func TestWebSocketSession(t *testing.T) {
	env := newRelayEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(env.relay, zerolog.Nop()).HandleConnection))
	defer srv.Close()

	alice := dial(t, srv)
	writeEvent(t, alice, models.EventJoin, JoinEvent{DocumentID: "rep-1", UserID: "u1", DisplayName: "Ann"})
	assert.Equal(t, models.EventEditorsList, readEvent(t, alice).Event)
	assert.Equal(t, models.EventSyncMessage, readEvent(t, alice).Event)

	bob := dial(t, srv)
	writeEvent(t, bob, models.EventJoin, JoinEvent{DocumentID: "rep-1", UserID: "u2", DisplayName: "Bob"})
	assert.Equal(t, models.EventEditorsList, readEvent(t, bob).Event)
	assert.Equal(t, models.EventSyncMessage, readEvent(t, bob).Event)
	assert.Equal(t, models.EventEditorsList, readEvent(t, alice).Event)
	assert.Equal(t, models.EventUserJoined, readEvent(t, alice).Event)

	writeEvent(t, alice, models.EventSyncMessage, models.SyncMessage{Delta: titleDelta(t, "Hello")})
	got := readEvent(t, bob)
	require.Equal(t, models.EventSyncMessage, got.Event)
	var sync models.SyncMessage
	require.NoError(t, json.Unmarshal(got.Data, &sync))
	assert.NotEmpty(t, sync.Delta)

	require.NoError(t, bob.Close())
	left := readEvent(t, alice)
	assert.Equal(t, models.EventUserLeft, left.Event)

	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool {
		return env.hub.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, env.hub.Registry().Len())
}
