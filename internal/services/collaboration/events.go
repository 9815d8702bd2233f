package collaboration

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reportcollab/collabd/internal/models"
)

// ErrMalformedMessage is returned for frames that cannot be decoded or fail
// validation. The connection stays open.
var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads. DocumentID may be omitted on every event except join; it
// then defaults to the document the connection joined.

type JoinEvent struct {
	DocumentID  string      `json:"documentId"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"displayName"`
	Role        models.Role `json:"role"`
}

func (e *JoinEvent) validate() error {
	if e.DocumentID == "" || e.UserID == "" {
		return errors.New("documentId and userId are required")
	}
	switch e.Role {
	case "", models.RoleEditor, models.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", e.Role)
	}
	if e.DisplayName == "" {
		e.DisplayName = e.UserID
	}
	return nil
}

type LeaveEvent struct {
	DocumentID string `json:"documentId"`
}

func (e *LeaveEvent) validate() error { return nil }

type SyncEvent struct {
	DocumentID string `json:"documentId"`
	models.SyncMessage
}

func (e *SyncEvent) validate() error {
	if e.StateVector == nil && e.Delta == nil {
		return errors.New("stateVector or delta is required")
	}
	return nil
}

type PresenceEvent struct {
	DocumentID string `json:"documentId"`
	models.PresenceMessage
}

func (e *PresenceEvent) validate() error {
	if len(e.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

type FieldChangeEvent struct {
	DocumentID  string `json:"documentId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	FieldPath   string `json:"fieldPath"`
	OldValue    any    `json:"oldValue"`
	NewValue    any    `json:"newValue"`
}

func (e *FieldChangeEvent) validate() error {
	if e.FieldPath == "" {
		return errors.New("fieldPath is required")
	}
	return nil
}

// FocusEvent is used for both field-focus and field-blur.
type FocusEvent struct {
	DocumentID     string                 `json:"documentId"`
	UserID         string                 `json:"userId"`
	DisplayName    string                 `json:"displayName"`
	FieldPath      string                 `json:"fieldPath"`
	CursorPosition *models.CursorPosition `json:"cursorPosition"`
}

func (e *FocusEvent) validate() error {
	if e.FieldPath == "" {
		return errors.New("fieldPath is required")
	}
	return nil
}

type HeartbeatEvent struct {
	DocumentID string `json:"documentId"`
}

func (e *HeartbeatEvent) validate() error { return nil }

type RequestSyncEvent struct {
	DocumentID    string `json:"documentId"`
	SinceSequence int64  `json:"sinceSequence"`
}

func (e *RequestSyncEvent) validate() error {
	if e.SinceSequence < 0 {
		return errors.New("sinceSequence must not be negative")
	}
	return nil
}

type RequestFullStateEvent struct {
	DocumentID string `json:"documentId"`
}

func (e *RequestFullStateEvent) validate() error { return nil }

type inbound interface {
	validate() error
}

// DecodeEnvelope parses a frame and checks the event name.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch env.Event {
	case models.EventJoin, models.EventLeave, models.EventSyncMessage, models.EventPresenceMessage,
		models.EventFieldChange, models.EventFieldFocus, models.EventFieldBlur, models.EventHeartbeat,
		models.EventRequestSync, models.EventRequestFullState:
		return env, nil
	case "":
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedMessage)
	default:
		return Envelope{}, fmt.Errorf("%w: unknown event %q", ErrMalformedMessage, env.Event)
	}
}

func decodeData(env Envelope, v inbound) error {
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Event, err)
		}
	}
	if err := v.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Event, err)
	}
	return nil
}

// Encode builds an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
