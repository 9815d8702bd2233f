package collaboration

import (
	"encoding/json"
	"testing"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"join", `{"event":"join","data":{"documentId":"rep-1","userId":"u1"}}`, false},
		{"no data", `{"event":"heartbeat"}`, false},
		{"not json", `hello`, true},
		{"missing event", `{"data":{}}`, true},
		{"unknown event", `{"event":"explode"}`, true},
		{"outbound event", `{"event":"editors-list"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeDataValidates(t *testing.T) {
	var join JoinEvent
	err := decodeData(Envelope{Event: models.EventJoin, Data: json.RawMessage(`{"documentId":"rep-1"}`)}, &join)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	join = JoinEvent{}
	require.NoError(t, decodeData(Envelope{Event: models.EventJoin, Data: json.RawMessage(`{"documentId":"rep-1","userId":"u1"}`)}, &join))
	assert.Equal(t, "u1", join.DisplayName, "display name defaults to the user id")

	join = JoinEvent{}
	err = decodeData(Envelope{Event: models.EventJoin, Data: json.RawMessage(`{"documentId":"rep-1","userId":"u1","role":"owner"}`)}, &join)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	var sync SyncEvent
	err = decodeData(Envelope{Event: models.EventSyncMessage, Data: json.RawMessage(`{"delta":null}`)}, &sync)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	sync = SyncEvent{}
	require.NoError(t, decodeData(Envelope{Event: models.EventSyncMessage, Data: json.RawMessage(`{"delta":""}`)}, &sync))
	assert.NotNil(t, sync.Delta, "an empty delta is still a delta")

	sync = SyncEvent{}
	require.NoError(t, decodeData(Envelope{Event: models.EventSyncMessage, Data: json.RawMessage(`{"stateVector":[]}`)}, &sync))
	assert.NotNil(t, sync.StateVector)

	var change FieldChangeEvent
	err = decodeData(Envelope{Event: models.EventFieldChange, Data: json.RawMessage(`{"newValue":1}`)}, &change)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	var rs RequestSyncEvent
	err = decodeData(Envelope{Event: models.EventRequestSync, Data: json.RawMessage(`{"sinceSequence":"x"}`)}, &rs)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestEncode(t *testing.T) {
	raw, err := Encode(models.EventError, models.ErrorPayload{Message: "nope"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"message":"nope"}}`, string(raw))

	_, err = Encode(models.EventError, func() {})
	assert.Error(t, err)
}
