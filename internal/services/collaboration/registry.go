package collaboration

import (
	"sync"
	"time"

	"github.com/reportcollab/collabd/internal/models"

	"golang.org/x/exp/slices"
)

/*
Session registry

In-memory presence tracking, one session per (document, user). A second join
by the same user replaces the first session's connection handle instead of
adding a session, so a user with two tabs is listed once and only the latest
tab is tracked. The registry never broadcasts; callers publish the updated
editor list after join and leave.
*/

type sessionKey struct {
	documentID string
	userID     string
}

// RegistryState owns every presence session of the process.
type RegistryState struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*models.PresenceSession
	byConn   map[string]sessionKey
	now      func() time.Time
}

func NewRegistryState() *RegistryState {
	return &RegistryState{
		sessions: make(map[sessionKey]*models.PresenceSession),
		byConn:   make(map[string]sessionKey),
		now:      time.Now,
	}
}

// Join upserts the session for (documentID, userID).
func (r *RegistryState) Join(documentID, userID, displayName string, role models.Role, connectionID string) models.PresenceSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if role == "" {
		role = models.RoleEditor
	}
	key := sessionKey{documentID: documentID, userID: userID}

	// a connection holds at most one session
	if prev, ok := r.byConn[connectionID]; ok && prev != key {
		delete(r.sessions, prev)
	}

	if s, ok := r.sessions[key]; ok {
		if s.ConnectionID != connectionID {
			delete(r.byConn, s.ConnectionID)
		}
		// rejoining moves the session to the new connection; the identity
		// recorded on first join stays
		s.ConnectionID = connectionID
		s.LastActivityAt = now
		r.byConn[connectionID] = key
		return *s
	}

	s := &models.PresenceSession{
		UserID:         userID,
		DisplayName:    displayName,
		Role:           role,
		ConnectionID:   connectionID,
		DocumentID:     documentID,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	r.sessions[key] = s
	r.byConn[connectionID] = key
	return *s
}

// Leave removes the session held by connectionID. It reports false when the
// connection has no session, e.g. because a newer connection replaced it.
func (r *RegistryState) Leave(connectionID string) (models.PresenceSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byConn[connectionID]
	if !ok {
		return models.PresenceSession{}, false
	}
	delete(r.byConn, connectionID)

	s, ok := r.sessions[key]
	if !ok {
		return models.PresenceSession{}, false
	}
	delete(r.sessions, key)
	return *s, true
}

// ListActive returns the document's sessions, oldest connection first.
func (r *RegistryState) ListActive(documentID string) []models.PresenceSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.PresenceSession{}
	for key, s := range r.sessions {
		if key.documentID == documentID {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b models.PresenceSession) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out
}

// Editors is ListActive without connection handles.
func (r *RegistryState) Editors(documentID string) []models.Editor {
	sessions := r.ListActive(documentID)
	editors := make([]models.Editor, 0, len(sessions))
	for _, s := range sessions {
		editors = append(editors, models.EditorFromSession(s))
	}
	return editors
}

// Session returns the session held by connectionID.
func (r *RegistryState) Session(connectionID string) (models.PresenceSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byConn[connectionID]
	if !ok {
		return models.PresenceSession{}, false
	}
	s, ok := r.sessions[key]
	if !ok {
		return models.PresenceSession{}, false
	}
	return *s, true
}

// SetFocus records the focused field and cursor. A nil fieldPath clears both.
func (r *RegistryState) SetFocus(connectionID string, fieldPath *string, cursor *models.CursorPosition) bool {
	return r.touch(connectionID, func(s *models.PresenceSession) {
		s.FocusedField = fieldPath
		if fieldPath == nil {
			cursor = nil
		}
		s.CursorPosition = cursor
	})
}

// Heartbeat refreshes lastActivityAt.
func (r *RegistryState) Heartbeat(connectionID string) bool {
	return r.touch(connectionID, nil)
}

func (r *RegistryState) touch(connectionID string, fn func(*models.PresenceSession)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byConn[connectionID]
	if !ok {
		return false
	}
	s, ok := r.sessions[key]
	if !ok {
		return false
	}
	if fn != nil {
		fn(s)
	}
	s.LastActivityAt = r.now()
	return true
}

// SweepStale deletes sessions idle for longer than maxAge and returns them.
func (r *RegistryState) SweepStale(maxAge time.Duration) []models.PresenceSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := []models.PresenceSession{}
	for key, s := range r.sessions {
		if s.LastActivityAt.Before(cutoff) {
			removed = append(removed, *s)
			delete(r.sessions, key)
			if r.byConn[s.ConnectionID] == key {
				delete(r.byConn, s.ConnectionID)
			}
		}
	}
	return removed
}

// Len is the number of tracked sessions.
func (r *RegistryState) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
