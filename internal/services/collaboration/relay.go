package collaboration

import (
	"context"
	"errors"
	"fmt"

	"github.com/reportcollab/collabd/internal/middleware"
	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/replica"
	"github.com/reportcollab/collabd/internal/services"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

/*
Sync relay

Per connection: disconnected -> joined -> synchronizing -> synced.

  join          registry upsert, editors-list to all, user-joined to others,
                presence bootstrap, then our state vector (-> synchronizing)
  sync-message  stateVector: reply with the missing changes
                delta: merge; new content goes to every other connection of
                the document (-> synced on the first delta, even empty)
  field-change  journal submit, field-updated to others, change-confirmed
                to the sender

Frames that fail to decode are logged and dropped. Store failures are
reported to the sender only.
*/

var errNotJoined = errors.New("join a document first")

const defaultSyncOperationsLimit = 100

type Relay struct {
	hub       *Hub
	registry  *RegistryState
	replicas  ReplicaStore
	journal   Journal
	awareness *Awareness
	tracker   services.ChangeTracker
	publisher Publisher
	syncLimit int
	logger    zerolog.Logger
}

func NewRelay(hub *Hub, replicas ReplicaStore, journal Journal, logger zerolog.Logger) *Relay {
	return &Relay{
		hub:       hub,
		registry:  hub.Registry(),
		replicas:  replicas,
		journal:   journal,
		awareness: NewAwareness(),
		syncLimit: defaultSyncOperationsLimit,
		logger:    logger.With().Str("component", "relay").Logger(),
	}
}

// SetChangeTracker registers the dirty tracker fed by accepted deltas.
func (r *Relay) SetChangeTracker(t services.ChangeTracker) {
	r.tracker = t
}

// SetPublisher forwards accepted deltas to other instances.
func (r *Relay) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetSyncLimit caps the operations returned for request-sync.
func (r *Relay) SetSyncLimit(n int) {
	if n > 0 {
		r.syncLimit = n
	}
}

func (r *Relay) Awareness() *Awareness {
	return r.awareness
}

// Connect attaches a new connection to the hub.
func (r *Relay) Connect(c *Client) {
	r.hub.Attach(c)
	r.logger.Debug().Str("connection_id", c.ID).Msg("connection opened")
}

// Disconnect runs the leave path and forgets the connection.
func (r *Relay) Disconnect(ctx context.Context, c *Client) {
	r.leave(ctx, c)
	r.hub.Detach(c)
	c.Close()
	r.logger.Debug().Str("connection_id", c.ID).Msg("connection closed")
}

// Handle processes one inbound frame.
func (r *Relay) Handle(ctx context.Context, c *Client, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("connection_id", c.ID).Msg("dropping frame")
		return
	}

	documentID, _, _ := c.Identity()
	ctx, span := middleware.StartSpan(ctx, "Relay."+env.Event,
		attribute.String("connection.id", c.ID),
		attribute.String("document.id", documentID),
		attribute.Int("message.size", len(raw)),
	)
	defer span.End()

	switch env.Event {
	case models.EventJoin:
		err = r.handleJoin(ctx, c, env)
	case models.EventLeave:
		err = r.handleLeave(ctx, c, env)
	case models.EventSyncMessage:
		err = r.handleSync(ctx, c, env)
	case models.EventPresenceMessage:
		err = r.handlePresence(ctx, c, env)
	case models.EventFieldChange:
		err = r.handleFieldChange(ctx, c, env)
	case models.EventFieldFocus, models.EventFieldBlur:
		err = r.handleFocus(ctx, c, env)
	case models.EventHeartbeat:
		err = r.handleHeartbeat(ctx, c, env)
	case models.EventRequestSync:
		err = r.handleRequestSync(ctx, c, env)
	case models.EventRequestFullState:
		err = r.handleRequestFullState(ctx, c, env)
	}
	if err == nil {
		return
	}

	middleware.AddSpanError(ctx, err)
	if errors.Is(err, ErrMalformedMessage) {
		r.logger.Warn().Err(err).Str("connection_id", c.ID).Str("event", env.Event).Msg("dropping frame")
		return
	}
	r.logger.Error().Err(err).Str("connection_id", c.ID).Str("event", env.Event).Msg("event failed")
	r.send(c, models.EventError, models.ErrorPayload{Message: err.Error()})
}

func (r *Relay) send(c *Client, event string, payload any) {
	msg, err := Encode(event, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	if !c.Send(msg) {
		r.logger.Warn().Str("connection_id", c.ID).Str("event", event).Msg("send buffer full, frame dropped")
	}
}

// document resolves the target document of an event: the joined document,
// which an explicit id must match.
func (r *Relay) document(c *Client, requested string) (string, error) {
	documentID, _, _ := c.Identity()
	if documentID == "" || (requested != "" && requested != documentID) {
		return "", errNotJoined
	}
	return documentID, nil
}

func (r *Relay) handleJoin(ctx context.Context, c *Client, env Envelope) error {
	var ev JoinEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}

	if current, _, _ := c.Identity(); current != "" && current != ev.DocumentID {
		r.leave(ctx, c)
	}

	session := r.registry.Join(ev.DocumentID, ev.UserID, ev.DisplayName, ev.Role, c.ID)
	c.join(ev.DocumentID, ev.UserID, ev.DisplayName)
	r.hub.Register(ev.DocumentID, c)

	editors := r.registry.Editors(ev.DocumentID)
	r.hub.Emit(ev.DocumentID, models.EventEditorsList, models.EditorsListPayload{Editors: editors}, nil)
	r.hub.Emit(ev.DocumentID, models.EventUserJoined, models.UserPresencePayload{
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		Role:        session.Role,
		Editors:     editors,
	}, c)

	for _, payload := range r.awareness.Payloads(ev.DocumentID, c.ID) {
		r.send(c, models.EventPresenceMessage, models.PresenceMessage{Payload: payload})
	}

	r.send(c, models.EventSyncMessage, models.SyncMessage{StateVector: r.replicas.StateVector(ctx, ev.DocumentID)})
	c.advance(StateJoined, StateSynchronizing)

	r.logger.Info().
		Str("document_id", ev.DocumentID).
		Str("user_id", ev.UserID).
		Str("connection_id", c.ID).
		Int("editors", len(editors)).
		Msg("user joined")
	return nil
}

func (r *Relay) handleLeave(ctx context.Context, c *Client, env Envelope) error {
	var ev LeaveEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	r.leave(ctx, c)
	return nil
}

// leave removes the connection from its document and tells the others.
func (r *Relay) leave(_ context.Context, c *Client) {
	documentID, _, _ := c.Identity()
	if documentID == "" {
		return
	}

	r.hub.Unregister(documentID, c)
	r.awareness.Remove(documentID, c.ID)
	c.reset()

	session, ok := r.registry.Leave(c.ID)
	if !ok {
		return
	}

	editors := r.registry.Editors(documentID)
	r.hub.Emit(documentID, models.EventUserLeft, models.UserPresencePayload{
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		Role:        session.Role,
		Editors:     editors,
	}, nil)
	r.hub.Emit(documentID, models.EventEditorsList, models.EditorsListPayload{Editors: editors}, nil)

	r.logger.Info().
		Str("document_id", documentID).
		Str("user_id", session.UserID).
		Str("connection_id", c.ID).
		Msg("user left")
}

func (r *Relay) handleSync(ctx context.Context, c *Client, env Envelope) error {
	var ev SyncEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	documentID, err := r.document(c, ev.DocumentID)
	if err != nil {
		return err
	}
	_, userID, displayName := c.Identity()

	if ev.StateVector != nil {
		missing, err := r.replicas.DiffSince(ctx, documentID, ev.StateVector)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		if missing == nil {
			missing = []byte{}
		}
		r.send(c, models.EventSyncMessage, models.SyncMessage{Delta: missing})
	}

	if ev.Delta == nil {
		return nil
	}

	merged, err := r.replicas.ApplyRemoteDelta(ctx, documentID, ev.Delta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	c.advance(StateSynchronizing, StateSynced)

	if len(merged) == 0 {
		return nil
	}

	r.hub.Emit(documentID, models.EventSyncMessage, models.SyncMessage{Delta: merged}, c)

	if r.tracker != nil {
		r.tracker.MarkDirty(documentID, userID, displayName)
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, documentID, merged); err != nil {
			r.logger.Warn().Err(err).Str("document_id", documentID).Msg("failed to publish delta")
		}
	}
	return nil
}

// HandleRemoteDelta merges a delta published by another instance and passes
// any new content to the local connections.
func (r *Relay) HandleRemoteDelta(ctx context.Context, documentID string, delta []byte) {
	merged, err := r.replicas.ApplyRemoteDelta(ctx, documentID, delta)
	if err != nil {
		r.logger.Warn().Err(err).Str("document_id", documentID).Msg("dropping remote delta")
		return
	}
	if len(merged) > 0 {
		r.hub.Emit(documentID, models.EventSyncMessage, models.SyncMessage{Delta: merged}, nil)
	}
}

func (r *Relay) handlePresence(_ context.Context, c *Client, env Envelope) error {
	var ev PresenceEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	documentID, err := r.document(c, ev.DocumentID)
	if err != nil {
		return err
	}

	if _, err := r.awareness.Apply(documentID, c.ID, ev.Payload); err != nil {
		return err
	}
	r.registry.Heartbeat(c.ID)
	r.hub.Emit(documentID, models.EventPresenceMessage, models.PresenceMessage{Payload: ev.Payload}, c)
	return nil
}

func (r *Relay) handleFieldChange(ctx context.Context, c *Client, env Envelope) error {
	var ev FieldChangeEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	documentID, err := r.document(c, ev.DocumentID)
	if err != nil {
		return err
	}
	_, userID, displayName := c.Identity()
	if ev.UserID != "" {
		userID = ev.UserID
	}
	if ev.DisplayName != "" {
		displayName = ev.DisplayName
	}

	op, err := r.journal.Submit(ctx, services.RecordInput{
		DocumentID:  documentID,
		UserID:      userID,
		DisplayName: displayName,
		FieldPath:   ev.FieldPath,
		OldValue:    ev.OldValue,
		NewValue:    ev.NewValue,
	})
	if err != nil {
		return err
	}
	r.registry.Heartbeat(c.ID)

	r.hub.Emit(documentID, models.EventFieldUpdated, models.FieldUpdatedPayload{
		UserID:      userID,
		DisplayName: displayName,
		FieldPath:   op.FieldPath,
		NewValue:    op.NewValue,
		Sequence:    op.SequenceNumber,
	}, c)
	r.send(c, models.EventChangeConfirmed, models.ChangeConfirmedPayload{
		Operation: op,
		Sequence:  op.SequenceNumber,
		Applied:   op.Applied,
	})
	return nil
}

func (r *Relay) handleFocus(_ context.Context, c *Client, env Envelope) error {
	var ev FocusEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	documentID, err := r.document(c, ev.DocumentID)
	if err != nil {
		return err
	}
	_, userID, displayName := c.Identity()

	event := models.EventUserFocus
	if env.Event == models.EventFieldBlur {
		event = models.EventUserBlur
		r.registry.SetFocus(c.ID, nil, nil)
	} else {
		fieldPath := ev.FieldPath
		r.registry.SetFocus(c.ID, &fieldPath, ev.CursorPosition)
	}

	r.hub.Emit(documentID, event, models.FocusPayload{
		UserID:         userID,
		DisplayName:    displayName,
		FieldPath:      ev.FieldPath,
		CursorPosition: ev.CursorPosition,
	}, c)
	return nil
}

func (r *Relay) handleHeartbeat(_ context.Context, c *Client, env Envelope) error {
	var ev HeartbeatEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	if _, err := r.document(c, ev.DocumentID); err != nil {
		return err
	}
	r.registry.Heartbeat(c.ID)
	return nil
}

func (r *Relay) handleRequestSync(ctx context.Context, c *Client, env Envelope) error {
	var ev RequestSyncEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	documentID, err := r.document(c, ev.DocumentID)
	if err != nil {
		return err
	}

	ops, err := r.journal.ListSince(ctx, documentID, ev.SinceSequence, r.syncLimit)
	if err != nil {
		return err
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	current := ev.SinceSequence
	if len(ops) > 0 {
		current = ops[len(ops)-1].SequenceNumber
	}

	r.send(c, models.EventSyncOperations, models.SyncOperationsPayload{
		Operations:      ops,
		CurrentSequence: current,
	})
	return nil
}

func (r *Relay) handleRequestFullState(ctx context.Context, c *Client, env Envelope) error {
	var ev RequestFullStateEvent
	if err := decodeData(env, &ev); err != nil {
		return err
	}
	documentID, err := r.document(c, ev.DocumentID)
	if err != nil {
		return err
	}

	full := r.replicas.EncodeFullState(ctx, documentID)
	r.send(c, models.EventSyncMessage, models.SyncMessage{Delta: replica.EncodeDelta(full)})
	return nil
}
