package collaboration

import (
	"sync"
	"time"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/rs/zerolog"
)

/*
Hub

Rooms of connections per document, plus the presence registry. Broadcasts
never block: a connection whose buffer is full is dropped from every room and
closed, and its read side then runs the normal disconnect path.
*/

type Hub struct {
	registry *RegistryState
	logger   zerolog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool // documentID -> set of clients
	clients map[*Client]bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewHub(registry *RegistryState, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		logger:   logger.With().Str("component", "hub").Logger(),
		rooms:    make(map[string]map[*Client]bool),
		clients:  make(map[*Client]bool),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Registry() *RegistryState {
	return h.registry
}

// Attach tracks an open connection so Shutdown can close it.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Detach forgets a connection and removes it from every room.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	for documentID, clients := range h.rooms {
		if clients[c] {
			h.unregisterLocked(documentID, c)
		}
	}
}

// Connections is the number of attached connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds c to the document's room.
func (h *Hub) Register(documentID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[documentID] == nil {
		h.rooms[documentID] = make(map[*Client]bool)
	}
	h.rooms[documentID][c] = true

	h.logger.Debug().
		Str("document_id", documentID).
		Str("connection_id", c.ID).
		Int("connections", len(h.rooms[documentID])).
		Msg("connection joined room")
}

// Unregister removes c from the document's room. Empty rooms are dropped.
func (h *Hub) Unregister(documentID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(documentID, c)
}

func (h *Hub) unregisterLocked(documentID string, c *Client) {
	clients, ok := h.rooms[documentID]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, documentID)
	}
}

// Clients returns the connections of a document.
func (h *Hub) Clients(documentID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.rooms[documentID]))
	for c := range h.rooms[documentID] {
		out = append(out, c)
	}
	return out
}

// Broadcast queues msg on every connection of the document except `except`
// and returns how many connections received it.
func (h *Hub) Broadcast(documentID string, msg []byte, except *Client) int {
	h.mu.RLock()
	var slow []*Client
	sent := 0
	for c := range h.rooms[documentID] {
		if c == except {
			continue
		}
		if c.Send(msg) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("document_id", documentID).Str("connection_id", c.ID).Msg("send buffer full, dropping connection")
		h.Unregister(documentID, c)
		c.Close()
	}
	return sent
}

// Emit encodes and broadcasts a server event.
func (h *Hub) Emit(documentID, event string, payload any, except *Client) {
	msg, err := Encode(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	h.Broadcast(documentID, msg, except)
}

// Editors lists the document's active editors.
func (h *Hub) Editors(documentID string) []models.Editor {
	return h.registry.Editors(documentID)
}

// Notify sends a server event to every connection of the document.
func (h *Hub) Notify(documentID, event string, payload any) {
	h.Emit(documentID, event, payload, nil)
}

// SweepStale drops idle presence sessions and tells the affected documents.
func (h *Hub) SweepStale(maxAge time.Duration) int {
	removed := h.registry.SweepStale(maxAge)

	touched := make(map[string]bool)
	for _, s := range removed {
		touched[s.DocumentID] = true
		h.logger.Info().
			Str("document_id", s.DocumentID).
			Str("user_id", s.UserID).
			Str("connection_id", s.ConnectionID).
			Msg("stale session removed")
	}
	for documentID := range touched {
		h.Notify(documentID, models.EventEditorsList, models.EditorsListPayload{Editors: h.registry.Editors(documentID)})
	}
	return len(removed)
}

// StartCleanup sweeps stale sessions every interval until Shutdown.
func (h *Hub) StartCleanup(interval, maxAge time.Duration) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				if n := h.SweepStale(maxAge); n > 0 {
					h.logger.Info().Int("removed", n).Msg("presence sweep")
				}
			}
		}
	}()

	h.logger.Info().Dur("interval", interval).Dur("max_age", maxAge).Msg("presence cleanup started")
}

// Shutdown stops the cleanup loop and closes every connection.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, clients := range h.rooms {
			for c := range clients {
				c.Close()
			}
		}
		for c := range h.clients {
			c.Close()
		}
		h.rooms = make(map[string]map[*Client]bool)
		h.clients = make(map[*Client]bool)
		h.logger.Info().Msg("hub shut down")
	})
}
