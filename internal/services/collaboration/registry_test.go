package collaboration

import (
	"testing"
	"time"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry() (*RegistryState, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistryState()
	r.now = clock.Now
	return r, clock
}

func TestJoinUpsertsByDocumentAndUser(t *testing.T) {
	r, clock := newTestRegistry()

	first := r.Join("rep-1", "u1", "Ann", models.RoleEditor, "conn-1")
	clock.Advance(time.Second)
	second := r.Join("rep-1", "u1", "Ann B.", models.RoleViewer, "conn-2")

	active := r.ListActive("rep-1")
	require.Len(t, active, 1)
	assert.Equal(t, "conn-2", active[0].ConnectionID)
	assert.Equal(t, "Ann", active[0].DisplayName, "rejoin keeps the first identity")
	assert.Equal(t, models.RoleEditor, active[0].Role)
	assert.Equal(t, first.ConnectedAt, second.ConnectedAt, "upsert keeps the original connect time")
	assert.True(t, second.LastActivityAt.After(first.LastActivityAt))

	_, ok := r.Leave("conn-1")
	assert.False(t, ok, "the replaced connection no longer holds a session")
	assert.Equal(t, 1, r.Len())

	left, ok := r.Leave("conn-2")
	require.True(t, ok)
	assert.Equal(t, "u1", left.UserID)
	assert.Empty(t, r.ListActive("rep-1"))
}

func TestJoinDefaultsRole(t *testing.T) {
	r, _ := newTestRegistry()
	s := r.Join("rep-1", "u1", "Ann", "", "conn-1")
	assert.Equal(t, models.RoleEditor, s.Role)
}

func TestListActiveOrderedByConnectTime(t *testing.T) {
	r, clock := newTestRegistry()

	r.Join("rep-1", "u3", "Cid", models.RoleViewer, "c3")
	clock.Advance(time.Second)
	r.Join("rep-1", "u1", "Ann", models.RoleEditor, "c1")
	clock.Advance(time.Second)
	r.Join("rep-2", "u9", "Other", models.RoleEditor, "c9")
	r.Join("rep-1", "u2", "Bob", models.RoleEditor, "c2")

	var users []string
	for _, s := range r.ListActive("rep-1") {
		users = append(users, s.UserID)
	}
	assert.Equal(t, []string{"u3", "u1", "u2"}, users)

	editors := r.Editors("rep-2")
	require.Len(t, editors, 1)
	assert.Equal(t, "Other", editors[0].DisplayName)

	assert.NotNil(t, r.ListActive("nobody"))
}

func TestSetFocusAndHeartbeat(t *testing.T) {
	r, clock := newTestRegistry()
	r.Join("rep-1", "u1", "Ann", models.RoleEditor, "c1")

	field := "content_blocks.0.title"
	clock.Advance(time.Minute)
	require.True(t, r.SetFocus("c1", &field, &models.CursorPosition{Position: 3}))

	s, ok := r.Session("c1")
	require.True(t, ok)
	require.NotNil(t, s.FocusedField)
	assert.Equal(t, field, *s.FocusedField)
	assert.Equal(t, 3, s.CursorPosition.Position)
	assert.Equal(t, clock.Now(), s.LastActivityAt)

	require.True(t, r.SetFocus("c1", nil, &models.CursorPosition{Position: 1}))
	s, _ = r.Session("c1")
	assert.Nil(t, s.FocusedField)
	assert.Nil(t, s.CursorPosition, "blur clears the cursor too")

	clock.Advance(time.Minute)
	assert.True(t, r.Heartbeat("c1"))
	s, _ = r.Session("c1")
	assert.Equal(t, clock.Now(), s.LastActivityAt)

	assert.False(t, r.Heartbeat("unknown"))
	assert.False(t, r.SetFocus("unknown", &field, nil))
}

func TestSweepStaleIsIdempotent(t *testing.T) {
	r, clock := newTestRegistry()
	r.Join("rep-1", "u1", "Ann", models.RoleEditor, "c1")
	r.Join("rep-1", "u2", "Bob", models.RoleEditor, "c2")

	clock.Advance(4 * time.Minute)
	r.Heartbeat("c2")
	clock.Advance(2 * time.Minute)

	removed := r.SweepStale(5 * time.Minute)
	require.Len(t, removed, 1)
	assert.Equal(t, "u1", removed[0].UserID)

	assert.Empty(t, r.SweepStale(5*time.Minute))
	assert.Equal(t, 1, r.Len())

	_, ok := r.Leave("c1")
	assert.False(t, ok)
}

func TestConnectionHoldsOneSession(t *testing.T) {
	r, _ := newTestRegistry()
	r.Join("rep-1", "u1", "Ann", models.RoleEditor, "c1")
	r.Join("rep-2", "u1", "Ann", models.RoleEditor, "c1")

	assert.Empty(t, r.ListActive("rep-1"))
	assert.Len(t, r.ListActive("rep-2"), 1)

	s, ok := r.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, "rep-2", s.DocumentID)
	assert.Equal(t, 0, r.Len())
}
