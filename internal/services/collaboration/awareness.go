package collaboration

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/reportcollab/collabd/internal/models"
)

type awarenessEntry struct {
	state   models.AwarenessState
	payload []byte
}

// Awareness keeps the latest presence payload of every connection, per
// document. Nothing here is persisted.
type Awareness struct {
	mu   sync.RWMutex
	docs map[string]map[string]awarenessEntry // documentID -> connectionID -> entry
}

func NewAwareness() *Awareness {
	return &Awareness{docs: make(map[string]map[string]awarenessEntry)}
}

// Apply decodes payload and stores it for the connection. Last write wins.
func (a *Awareness) Apply(documentID, connectionID string, payload []byte) (models.AwarenessState, error) {
	var state models.AwarenessState
	if err := json.Unmarshal(payload, &state); err != nil {
		return models.AwarenessState{}, fmt.Errorf("%w: presence payload: %v", ErrMalformedMessage, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.docs[documentID] == nil {
		a.docs[documentID] = make(map[string]awarenessEntry)
	}
	a.docs[documentID][connectionID] = awarenessEntry{
		state:   state,
		payload: append([]byte(nil), payload...),
	}
	return state, nil
}

// Remove drops the connection's entry.
func (a *Awareness) Remove(documentID, connectionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entries, ok := a.docs[documentID]; ok {
		delete(entries, connectionID)
		if len(entries) == 0 {
			delete(a.docs, documentID)
		}
	}
}

// Payloads returns the stored payloads of a document except the one held by
// excludeConnectionID.
func (a *Awareness) Payloads(documentID, excludeConnectionID string) [][]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out [][]byte
	for connID, e := range a.docs[documentID] {
		if connID != excludeConnectionID {
			out = append(out, e.payload)
		}
	}
	return out
}

// States returns the decoded entries of a document keyed by connection id.
func (a *Awareness) States(documentID string) map[string]models.AwarenessState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]models.AwarenessState, len(a.docs[documentID]))
	for connID, e := range a.docs[documentID] {
		out[connID] = e.state
	}
	return out
}
