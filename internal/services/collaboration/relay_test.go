package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/replica"
	"github.com/reportcollab/collabd/internal/services"

	"github.com/automerge/automerge-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	mu        sync.Mutex
	seq       int64
	err       error
	submitted []services.RecordInput
	ops       []models.Operation
}

func (f *fakeJournal) Submit(_ context.Context, in services.RecordInput) (*models.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	f.submitted = append(f.submitted, in)
	op := &models.Operation{
		ID:             "op-" + in.FieldPath,
		DocumentID:     in.DocumentID,
		UserID:         in.UserID,
		DisplayName:    in.DisplayName,
		FieldPath:      in.FieldPath,
		OldValue:       in.OldValue,
		NewValue:       in.NewValue,
		SequenceNumber: f.seq,
	}
	if f.err != nil {
		return op, f.err
	}
	op.Applied = true
	f.ops = append(f.ops, *op)
	return op, nil
}

func (f *fakeJournal) ListSince(_ context.Context, documentID string, since int64, limit int) ([]models.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	var out []models.Operation
	for _, op := range f.ops {
		if op.DocumentID == documentID && op.SequenceNumber > since && len(out) < limit {
			out = append(out, op)
		}
	}
	return out, nil
}

type fakeTracker struct {
	mu    sync.Mutex
	dirty map[string][]string
}

func (f *fakeTracker) MarkDirty(documentID, userID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirty == nil {
		f.dirty = make(map[string][]string)
	}
	f.dirty[documentID] = append(f.dirty[documentID], userID)
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (f *fakePublisher) Publish(_ context.Context, documentID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[documentID] = append(f.published[documentID], payload)
	return nil
}

type relayEnv struct {
	hub       *Hub
	relay     *Relay
	store     *replica.Store
	journal   *fakeJournal
	tracker   *fakeTracker
	publisher *fakePublisher
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()
	env := &relayEnv{
		hub:       NewHub(NewRegistryState(), zerolog.Nop()),
		store:     replica.NewStore(nil, zerolog.Nop()),
		journal:   &fakeJournal{},
		tracker:   &fakeTracker{},
		publisher: &fakePublisher{},
	}
	env.relay = NewRelay(env.hub, env.store, env.journal, zerolog.Nop())
	env.relay.SetChangeTracker(env.tracker)
	env.relay.SetPublisher(env.publisher)
	t.Cleanup(env.hub.Shutdown)
	return env
}

func (e *relayEnv) connect(id string) *Client {
	c := NewClient(id, nil)
	e.relay.Connect(c)
	return c
}

func (e *relayEnv) send(t *testing.T, c *Client, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	e.relay.Handle(context.Background(), c, frame)
}

func (e *relayEnv) join(t *testing.T, c *Client, documentID, userID string) {
	t.Helper()
	e.send(t, c, models.EventJoin, JoinEvent{DocumentID: documentID, UserID: userID, DisplayName: "name-" + userID})
}

// drain returns every frame queued for c.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case msg, ok := <-c.Outbox():
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(msg, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventNames(envs []Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Event)
	}
	return names
}

func find[T any](t *testing.T, envs []Envelope, event string) T {
	t.Helper()
	for _, e := range envs {
		if e.Event == event {
			var v T
			require.NoError(t, json.Unmarshal(e.Data, &v))
			return v
		}
	}
	require.Failf(t, "event not found", "%s not in %v", event, eventNames(envs))
	var zero T
	return zero
}

// titleDelta builds a change setting the title text on a fresh document.
func titleDelta(t *testing.T, text string) []byte {
	t.Helper()
	doc := automerge.New()
	require.NoError(t, doc.Path(models.FieldTitle).Set(automerge.NewText(text)))
	_, err := doc.Commit("title")
	require.NoError(t, err)
	changes, err := doc.Changes()
	require.NoError(t, err)
	return replica.ChangesDelta(changes)
}

func TestJoinSendsEditorsAndStateVector(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")

	env.join(t, a, "rep-1", "u1")
	aFrames := drain(t, a)
	assert.Equal(t, []string{models.EventEditorsList, models.EventSyncMessage}, eventNames(aFrames))
	sync := find[models.SyncMessage](t, aFrames, models.EventSyncMessage)
	assert.NotNil(t, sync.StateVector)
	assert.Nil(t, sync.Delta)
	assert.Equal(t, StateSynchronizing, a.State())

	env.join(t, b, "rep-1", "u2")
	aFrames = drain(t, a)
	assert.Equal(t, []string{models.EventEditorsList, models.EventUserJoined}, eventNames(aFrames))
	joined := find[models.UserPresencePayload](t, aFrames, models.EventUserJoined)
	assert.Equal(t, "u2", joined.UserID)
	assert.Equal(t, "name-u2", joined.DisplayName)
	require.Len(t, joined.Editors, 2)
	assert.Equal(t, "u1", joined.Editors[0].UserID, "oldest editor first")

	bFrames := drain(t, b)
	assert.NotContains(t, eventNames(bFrames), models.EventUserJoined)
	assert.Len(t, find[models.EditorsListPayload](t, bFrames, models.EventEditorsList).Editors, 2)
}

func TestRejoinFromSecondConnectionKeepsOneSession(t *testing.T) {
	env := newRelayEnv(t)
	tab1, tab2 := env.connect("tab-1"), env.connect("tab-2")

	env.join(t, tab1, "rep-1", "u1")
	env.join(t, tab2, "rep-1", "u1")

	active := env.hub.Registry().ListActive("rep-1")
	require.Len(t, active, 1)
	assert.Equal(t, "tab-2", active[0].ConnectionID)

	drain(t, tab2)
	env.relay.Disconnect(context.Background(), tab1)
	assert.Empty(t, drain(t, tab2), "the replaced tab leaving is not announced")
	assert.Len(t, env.hub.Registry().ListActive("rep-1"), 1)
}

func TestDeltaRebroadcastExcludesSender(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	delta := titleDelta(t, "Hello")
	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: delta})

	assert.Empty(t, drain(t, a), "never echoed to the sender")
	bFrames := drain(t, b)
	require.Equal(t, []string{models.EventSyncMessage}, eventNames(bFrames))
	assert.NotEmpty(t, find[models.SyncMessage](t, bFrames, models.EventSyncMessage).Delta)

	assert.Equal(t, "Hello", env.store.Text(context.Background(), "rep-1", models.FieldTitle))
	assert.Equal(t, StateSynced, a.State())
	assert.Equal(t, []string{"u1"}, env.tracker.dirty["rep-1"])
	assert.Len(t, env.publisher.published["rep-1"], 1)

	// same delta again merges nothing new
	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: delta})
	assert.Empty(t, drain(t, b))
	assert.Len(t, env.publisher.published["rep-1"], 1)
}

func TestEmptyDeltaConfirmsSync(t *testing.T) {
	env := newRelayEnv(t)
	a := env.connect("a")
	env.join(t, a, "rep-1", "u1")
	require.Equal(t, StateSynchronizing, a.State())

	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: []byte{}})
	assert.Equal(t, StateSynced, a.State())
	assert.Empty(t, env.tracker.dirty)
}

func TestMalformedFramesKeepConnectionUsable(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	env.relay.Handle(context.Background(), a, []byte("not json"))
	env.relay.Handle(context.Background(), a, []byte(`{"event":"nope"}`))
	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: []byte("garbage")})
	env.send(t, a, models.EventSyncMessage, models.SyncMessage{StateVector: []string{"zz"}})
	env.send(t, a, models.EventPresenceMessage, models.PresenceMessage{Payload: []byte("{broken")})

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
	assert.Equal(t, StateSynchronizing, a.State())

	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: titleDelta(t, "ok")})
	assert.Len(t, drain(t, b), 1)
	assert.Equal(t, "ok", env.store.Text(context.Background(), "rep-1", models.FieldTitle))
}

func TestStateVectorReplyCarriesMissingChanges(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: titleDelta(t, "Hello")})

	env.join(t, b, "rep-1", "u2")
	drain(t, b)
	env.send(t, b, models.EventSyncMessage, models.SyncMessage{StateVector: []string{}})

	frames := drain(t, b)
	require.Equal(t, []string{models.EventSyncMessage}, eventNames(frames))
	reply := find[models.SyncMessage](t, frames, models.EventSyncMessage)
	assert.Nil(t, reply.StateVector)

	doc := automerge.New()
	require.NoError(t, replica.ApplyDelta(doc, reply.Delta))
	assert.Equal(t, "Hello", replica.TextField(doc, models.FieldTitle))

	env.send(t, b, models.EventSyncMessage, models.SyncMessage{StateVector: replica.StateVector(doc)})
	upToDate := find[models.SyncMessage](t, drain(t, b), models.EventSyncMessage)
	assert.NotNil(t, upToDate.Delta)
	assert.Empty(t, upToDate.Delta)
}

func TestLateJoinerRequestsFullState(t *testing.T) {
	env := newRelayEnv(t)
	a := env.connect("a")
	env.join(t, a, "rep-1", "u1")
	env.send(t, a, models.EventSyncMessage, models.SyncMessage{Delta: titleDelta(t, "typed by A")})

	b := env.connect("b")
	env.join(t, b, "rep-1", "u2")
	drain(t, b)
	env.send(t, b, models.EventRequestFullState, RequestFullStateEvent{})

	full := find[models.SyncMessage](t, drain(t, b), models.EventSyncMessage)
	doc := automerge.New()
	require.NoError(t, replica.ApplyDelta(doc, full.Delta))
	assert.Equal(t, "typed by A", replica.TextField(doc, models.FieldTitle))
}

func TestFieldChangeConfirmsAndBroadcasts(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	env.send(t, a, models.EventFieldChange, FieldChangeEvent{FieldPath: "content_blocks.0.title", OldValue: "Q1", NewValue: "Q2"})

	confirmed := find[models.ChangeConfirmedPayload](t, drain(t, a), models.EventChangeConfirmed)
	assert.Equal(t, int64(1), confirmed.Sequence)
	assert.True(t, confirmed.Applied)
	require.NotNil(t, confirmed.Operation)
	assert.Equal(t, "u1", confirmed.Operation.UserID)

	updated := find[models.FieldUpdatedPayload](t, drain(t, b), models.EventFieldUpdated)
	assert.Equal(t, "content_blocks.0.title", updated.FieldPath)
	assert.Equal(t, "Q2", updated.NewValue)
	assert.Equal(t, int64(1), updated.Sequence)
	assert.Equal(t, "name-u1", updated.DisplayName)

	require.Len(t, env.journal.submitted, 1)
	assert.Equal(t, "rep-1", env.journal.submitted[0].DocumentID)
}

func TestFieldChangeFailureOnlyTellsSender(t *testing.T) {
	env := newRelayEnv(t)
	env.journal.err = errors.New("store unavailable")
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	env.send(t, a, models.EventFieldChange, FieldChangeEvent{FieldPath: "title", NewValue: "x"})

	failure := find[models.ErrorPayload](t, drain(t, a), models.EventError)
	assert.Contains(t, failure.Message, "store unavailable")
	assert.Empty(t, drain(t, b))
}

func TestEventsBeforeJoin(t *testing.T) {
	env := newRelayEnv(t)
	a := env.connect("a")

	env.send(t, a, models.EventFieldChange, FieldChangeEvent{FieldPath: "title", NewValue: "x"})
	failure := find[models.ErrorPayload](t, drain(t, a), models.EventError)
	assert.Equal(t, errNotJoined.Error(), failure.Message)
	assert.Empty(t, env.journal.submitted)

	env.join(t, a, "rep-1", "u1")
	drain(t, a)
	env.send(t, a, models.EventHeartbeat, HeartbeatEvent{DocumentID: "rep-2"})
	assert.Equal(t, []string{models.EventError}, eventNames(drain(t, a)), "events for another document are refused")
}

func TestFocusAndBlur(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	env.send(t, a, models.EventFieldFocus, FocusEvent{FieldPath: "title", CursorPosition: &models.CursorPosition{Position: 4}})
	focus := find[models.FocusPayload](t, drain(t, b), models.EventUserFocus)
	assert.Equal(t, "u1", focus.UserID)
	assert.Equal(t, "title", focus.FieldPath)
	assert.Empty(t, drain(t, a))

	s, ok := env.hub.Registry().Session("a")
	require.True(t, ok)
	require.NotNil(t, s.FocusedField)
	assert.Equal(t, "title", *s.FocusedField)

	env.send(t, a, models.EventFieldBlur, FocusEvent{FieldPath: "title"})
	find[models.FocusPayload](t, drain(t, b), models.EventUserBlur)
	s, _ = env.hub.Registry().Session("a")
	assert.Nil(t, s.FocusedField)
}

func TestRequestSync(t *testing.T) {
	env := newRelayEnv(t)
	a := env.connect("a")
	env.join(t, a, "rep-1", "u1")
	for _, path := range []string{"title", "date_from", "date_to"} {
		env.send(t, a, models.EventFieldChange, FieldChangeEvent{FieldPath: path, NewValue: "v"})
	}
	drain(t, a)

	env.send(t, a, models.EventRequestSync, RequestSyncEvent{SinceSequence: 1})
	payload := find[models.SyncOperationsPayload](t, drain(t, a), models.EventSyncOperations)
	require.Len(t, payload.Operations, 2)
	assert.Equal(t, int64(2), payload.Operations[0].SequenceNumber)
	assert.Equal(t, int64(3), payload.CurrentSequence)

	env.send(t, a, models.EventRequestSync, RequestSyncEvent{SinceSequence: 3})
	payload = find[models.SyncOperationsPayload](t, drain(t, a), models.EventSyncOperations)
	assert.Empty(t, payload.Operations)
	assert.Equal(t, int64(3), payload.CurrentSequence)
}

func TestPresenceRebroadcastAndBootstrap(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	state := []byte(`{"clientId":"a","user":{"id":"u1","name":"Ann","color":"#ff0000"},"cursor":{"fieldPath":"title","position":2}}`)
	env.send(t, a, models.EventPresenceMessage, models.PresenceMessage{Payload: state})

	assert.Empty(t, drain(t, a))
	got := find[models.PresenceMessage](t, drain(t, b), models.EventPresenceMessage)
	assert.JSONEq(t, string(state), string(got.Payload))

	c := env.connect("c")
	env.join(t, c, "rep-1", "u3")
	bootstrap := find[models.PresenceMessage](t, drain(t, c), models.EventPresenceMessage)
	assert.JSONEq(t, string(state), string(bootstrap.Payload))

	states := env.relay.Awareness().States("rep-1")
	require.Contains(t, states, "a")
	assert.Equal(t, "#ff0000", states["a"].User.Color)

	env.relay.Disconnect(context.Background(), a)
	assert.NotContains(t, env.relay.Awareness().States("rep-1"), "a")
}

func TestLeaveAnnouncesRemainingEditors(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)
	drain(t, b)

	env.send(t, b, models.EventLeave, LeaveEvent{DocumentID: "rep-1"})

	aFrames := drain(t, a)
	assert.Equal(t, []string{models.EventUserLeft, models.EventEditorsList}, eventNames(aFrames))
	left := find[models.UserPresencePayload](t, aFrames, models.EventUserLeft)
	assert.Equal(t, "u2", left.UserID)
	require.Len(t, left.Editors, 1)
	assert.Equal(t, StateDisconnected, b.State())
	assert.Len(t, env.hub.Clients("rep-1"), 1)

	// b is still connected and can join again
	env.join(t, b, "rep-1", "u2")
	assert.Len(t, env.hub.Registry().ListActive("rep-1"), 2)
}

func TestJoinAnotherDocumentLeavesFirst(t *testing.T) {
	env := newRelayEnv(t)
	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	drain(t, a)

	env.join(t, b, "rep-2", "u2")

	assert.Contains(t, eventNames(drain(t, a)), models.EventUserLeft)
	assert.Len(t, env.hub.Registry().ListActive("rep-1"), 1)
	assert.Len(t, env.hub.Registry().ListActive("rep-2"), 1)
	assert.Len(t, env.hub.Clients("rep-2"), 1)
}

func TestHandleRemoteDelta(t *testing.T) {
	env := newRelayEnv(t)
	a := env.connect("a")
	env.join(t, a, "rep-1", "u1")
	drain(t, a)

	delta := titleDelta(t, "from elsewhere")
	env.relay.HandleRemoteDelta(context.Background(), "rep-1", delta)
	require.Equal(t, []string{models.EventSyncMessage}, eventNames(drain(t, a)))

	env.relay.HandleRemoteDelta(context.Background(), "rep-1", delta)
	assert.Empty(t, drain(t, a))
	env.relay.HandleRemoteDelta(context.Background(), "rep-1", []byte("junk"))
	assert.Empty(t, drain(t, a))
	assert.Empty(t, env.publisher.published, "remote deltas are not republished")
}

func TestHubDropsSlowClient(t *testing.T) {
	env := newRelayEnv(t)
	a, slow := env.connect("a"), env.connect("slow")
	env.join(t, a, "rep-1", "u1")
	env.join(t, slow, "rep-1", "u2")

	for i := 0; i < sendBufferSize; i++ {
		slow.Send([]byte("{}"))
	}
	env.hub.Notify("rep-1", models.EventVersionCreated, models.VersionCreatedPayload{VersionNumber: 1})

	assert.NotContains(t, env.hub.Clients("rep-1"), slow)
	assert.Contains(t, env.hub.Clients("rep-1"), a)
	assert.False(t, slow.Send([]byte("{}")), "dropped client is closed")
}

func TestHubSweepStaleNotifiesDocument(t *testing.T) {
	env := newRelayEnv(t)
	clock := &manualClock{now: time.Now()}
	env.hub.Registry().now = clock.Now

	a, b := env.connect("a"), env.connect("b")
	env.join(t, a, "rep-1", "u1")
	env.join(t, b, "rep-1", "u2")
	clock.Advance(4 * time.Minute)
	env.send(t, a, models.EventHeartbeat, HeartbeatEvent{})
	clock.Advance(2 * time.Minute)
	drain(t, a)

	assert.Equal(t, 1, env.hub.SweepStale(5*time.Minute))
	editors := find[models.EditorsListPayload](t, drain(t, a), models.EventEditorsList)
	require.Len(t, editors.Editors, 1)
	assert.Equal(t, "u1", editors.Editors[0].UserID)

	assert.Equal(t, 0, env.hub.SweepStale(5*time.Minute))
	assert.Empty(t, drain(t, a))
}

func TestShutdownClosesConnections(t *testing.T) {
	env := newRelayEnv(t)
	a, idle := env.connect("a"), env.connect("idle")
	env.join(t, a, "rep-1", "u1")
	require.Equal(t, 2, env.hub.Connections())

	env.hub.Shutdown()

	assert.False(t, a.Send([]byte("{}")))
	assert.False(t, idle.Send([]byte("{}")))
}
