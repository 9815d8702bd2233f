package models

import (
	"time"
)

// Role of an editor inside a document.
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CursorPosition is where an editor's caret sits inside a field.
type CursorPosition struct {
	Position  int  `json:"position"`
	Selection *int `json:"selection,omitempty"`
}

// PresenceSession represents an active WebSocket connection to a document.
// Sessions live only in memory.
type PresenceSession struct {
	UserID         string          `json:"userId"`
	DisplayName    string          `json:"displayName"`
	Role           Role            `json:"role"`
	ConnectionID   string          `json:"connectionId"`
	DocumentID     string          `json:"documentId"`
	FocusedField   *string         `json:"focusedField"`
	CursorPosition *CursorPosition `json:"cursorPosition"`
	ConnectedAt    time.Time       `json:"connectedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

// AwarenessState represents user presence information (cursor, selection, etc.)
// It is separate from document content and never persisted.
type AwarenessState struct {
	ClientID string           `json:"clientId"`
	User     *UserInfo        `json:"user,omitempty"`
	Cursor   *AwarenessCursor `json:"cursor,omitempty"`
	State    map[string]any   `json:"state,omitempty"`
}

// UserInfo represents information about a connected user
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"` // Hex color for cursor/highlight
}

type AwarenessCursor struct {
	FieldPath string `json:"fieldPath"`
	Position  int    `json:"position"`
}
