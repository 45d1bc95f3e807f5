package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/logging"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, count int) (*Service, *database.SQLStore, string) {
	t.Helper()
	ctx := context.Background()
	store, err := database.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.CreateUser(ctx, &model.User{ID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)

	ev := &model.Event{
		Content:       model.Content{BranchID: "b1", IsActive: true},
		Title:         "Block party",
		Date:          time.Now().Add(24 * time.Hour),
		AttendeeCount: count,
	}
	require.NoError(t, store.CreateEvent(ctx, ev))
	return NewService(store, logging.Discard()), store, ev.ID
}

func TestToggleJoinsThenLeaves(t *testing.T) {
	svc, store, eventID := setup(t, 5)
	ctx := context.Background()

	ev, attending, err := svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.True(t, attending)
	assert.Equal(t, 6, ev.AttendeeCount)
	assert.Equal(t, []string{"u1"}, ev.Attendees)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{eventID}, u.AttendingEvents)

	ev, attending, err = svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.False(t, attending)
	assert.Equal(t, 5, ev.AttendeeCount)
	assert.Empty(t, ev.Attendees)

	u, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.AttendingEvents)
}

func TestToggleCounterNeverNegative(t *testing.T) {
	svc, store, eventID := setup(t, 0)
	ctx := context.Background()

	// attendee present while the counter already drifted to zero
	_, err := store.AddAttendee(ctx, eventID, "u1")
	require.NoError(t, err)

	ev, attending, err := svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.False(t, attending)
	assert.Equal(t, 0, ev.AttendeeCount)
}

func TestToggleMissingEvent(t *testing.T) {
	svc, _, _ := setup(t, 0)

	ev, _, err := svc.Toggle(context.Background(), "missing", "u1")
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, database.ErrNotFound))
}

func TestCheckIn(t *testing.T) {
	svc, _, eventID := setup(t, 0)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, eventID, "u1")
	assert.ErrorIs(t, err, ErrNotAttending)

	_, _, err = svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)

	already, err := svc.CheckIn(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = svc.CheckIn(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestRemoveAttendee(t *testing.T) {
	svc, _, eventID := setup(t, 3)
	ctx := context.Background()

	_, _, err := svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)

	ev, err := svc.RemoveAttendee(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, ev.AttendeeCount)
	assert.Empty(t, ev.Attendees)

	ev, err = svc.RemoveAttendee(ctx, eventID, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 3, ev.AttendeeCount, "removing a non-attendee is a no-op")
}

func TestRecountAttendees(t *testing.T) {
	svc, store, eventID := setup(t, 7)
	ctx := context.Background()

	_, err := store.AddAttendee(ctx, eventID, "u1")
	require.NoError(t, err)

	n, err := svc.RecountAttendees(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ev, err := store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.AttendeeCount)
}

// interleavingStore runs afterGet inside the transaction right after the first
// GetEvent, standing in for a write another request commits between our read
// and our write.
type interleavingStore struct {
	*database.SQLStore
	afterGet func(ctx context.Context, q database.Queries) error
}

func (s *interleavingStore) RunInTx(ctx context.Context, fn func(q database.Queries) error) error {
	return s.SQLStore.RunInTx(ctx, func(q database.Queries) error {
		return fn(&interleavingQueries{Queries: q, afterGet: s.afterGet})
	})
}

type interleavingQueries struct {
	database.Queries
	afterGet func(ctx context.Context, q database.Queries) error
	done     bool
}

func (q *interleavingQueries) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	ev, err := q.Queries.GetEvent(ctx, id)
	if err != nil || q.done {
		return ev, err
	}
	q.done = true
	return ev, q.afterGet(ctx, q.Queries)
}

func joinAs(eventID, userID string) func(ctx context.Context, q database.Queries) error {
	return func(ctx context.Context, q database.Queries) error {
		if _, err := q.AddAttendee(ctx, eventID, userID); err != nil {
			return err
		}
		return q.AdjustAttendeeCount(ctx, eventID, 1)
	}
}

func TestToggleKeepsConcurrentJoin(t *testing.T) {
	_, store, eventID := setup(t, 5)
	ctx := context.Background()
	svc := NewService(&interleavingStore{SQLStore: store, afterGet: joinAs(eventID, "u2")}, logging.Discard())

	ev, attending, err := svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.True(t, attending)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ev.Attendees)
	assert.Equal(t, 7, ev.AttendeeCount)
}

func TestToggleDuplicateJoinLeavesCounter(t *testing.T) {
	_, store, eventID := setup(t, 5)
	ctx := context.Background()
	// The same user's earlier request lands between our read and our insert.
	svc := NewService(&interleavingStore{SQLStore: store, afterGet: joinAs(eventID, "u1")}, logging.Discard())

	ev, attending, err := svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.True(t, attending)
	assert.Equal(t, []string{"u1"}, ev.Attendees)
	assert.Equal(t, 6, ev.AttendeeCount)
}

func TestRemoveAttendeeKeepsConcurrentJoin(t *testing.T) {
	svc, store, eventID := setup(t, 3)
	ctx := context.Background()
	_, _, err := svc.Toggle(ctx, eventID, "u1")
	require.NoError(t, err)

	racing := NewService(&interleavingStore{SQLStore: store, afterGet: joinAs(eventID, "u2")}, logging.Discard())
	ev, err := racing.RemoveAttendee(ctx, eventID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ev.Attendees)
	assert.Equal(t, 4, ev.AttendeeCount)
}
