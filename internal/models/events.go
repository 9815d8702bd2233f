package models

import "time"

// Websocket event names. Every frame is {"event": <name>, "data": {...}}.
const (
	// client -> server
	EventJoin             = "join"
	EventLeave            = "leave"
	EventSyncMessage      = "sync-message"
	EventPresenceMessage  = "presence-message"
	EventFieldChange      = "field-change"
	EventFieldFocus       = "field-focus"
	EventFieldBlur        = "field-blur"
	EventHeartbeat        = "heartbeat"
	EventRequestSync      = "request-sync"
	EventRequestFullState = "request-full-state"

	// server -> client
	EventEditorsList     = "editors-list"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventUserFocus       = "user-focus"
	EventUserBlur        = "user-blur"
	EventFieldUpdated    = "field-updated"
	EventChangeConfirmed = "change-confirmed"
	EventSyncOperations  = "sync-operations"
	EventVersionCreated  = "version-created"
	EventVersionRestored = "version-restored"
	EventFieldRollback   = "field-rollback"
	EventError           = "error"
)

// Editor is the public view of a presence session.
type Editor struct {
	UserID         string          `json:"userId"`
	DisplayName    string          `json:"displayName"`
	Role           Role            `json:"role"`
	FocusedField   *string         `json:"focusedField"`
	CursorPosition *CursorPosition `json:"cursorPosition"`
	ConnectedAt    time.Time       `json:"connectedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

// EditorFromSession drops the connection handle.
func EditorFromSession(s PresenceSession) Editor {
	return Editor{
		UserID:         s.UserID,
		DisplayName:    s.DisplayName,
		Role:           s.Role,
		FocusedField:   s.FocusedField,
		CursorPosition: s.CursorPosition,
		ConnectedAt:    s.ConnectedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

type EditorsListPayload struct {
	Editors []Editor `json:"editors"`
}

// UserPresencePayload is sent as user-joined and user-left.
type UserPresencePayload struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Role        Role     `json:"role,omitempty"`
	Editors     []Editor `json:"editors"`
}

// FocusPayload is sent as user-focus and user-blur.
type FocusPayload struct {
	UserID         string          `json:"userId"`
	DisplayName    string          `json:"displayName"`
	FieldPath      string          `json:"fieldPath"`
	CursorPosition *CursorPosition `json:"cursorPosition,omitempty"`
}

type FieldUpdatedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	FieldPath   string `json:"fieldPath"`
	NewValue    any    `json:"newValue"`
	Sequence    int64  `json:"sequence"`
}

type ChangeConfirmedPayload struct {
	Operation *Operation `json:"operation"`
	Sequence  int64      `json:"sequence"`
	Applied   bool       `json:"applied"`
}

type SyncOperationsPayload struct {
	Operations      []Operation `json:"operations"`
	CurrentSequence int64       `json:"currentSequence"`
}

type VersionCreatedPayload struct {
	VersionID        string   `json:"versionId"`
	VersionNumber    int      `json:"versionNumber"`
	ContributorNames []string `json:"contributorNames"`
	IsAutoSave       bool     `json:"isAutoSave"`
}

type VersionRestoredPayload struct {
	VersionNumber int    `json:"versionNumber"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
}

type FieldRollbackPayload struct {
	FieldPath     string `json:"fieldPath"`
	RestoredValue any    `json:"restoredValue"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// SyncMessage carries a state vector request, a delta, or both. Null fields
// are absent. An empty state vector asks for everything and an empty delta
// still confirms receipt.
type SyncMessage struct {
	StateVector []string `json:"stateVector"`
	Delta       []byte   `json:"delta"`
}

// PresenceMessage carries an encoded AwarenessState.
type PresenceMessage struct {
	Payload []byte `json:"payload"`
}
