package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedBranches(t *testing.T, store *SQLStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.CreateBranch(context.Background(), &model.Branch{ID: id, City: id, State: "TX"}))
	}
}

func TestVisibleEventsIncludeGlobal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx", "dallas-tx")

	base := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	events := []*model.Event{
		{Content: model.Content{BranchID: "austin-tx", IsActive: true, CreatedAt: base}, Title: "local", Date: base.Add(48 * time.Hour)},
		{Content: model.Content{BranchID: "dallas-tx", IsActive: true, IsGlobal: true, CreatedAt: base.Add(time.Minute)}, Title: "global", Date: base.Add(72 * time.Hour)},
		{Content: model.Content{BranchID: "dallas-tx", IsActive: true, CreatedAt: base.Add(2 * time.Minute)}, Title: "elsewhere", Date: base},
		{Content: model.Content{BranchID: "austin-tx", IsActive: false, CreatedAt: base.Add(3 * time.Minute)}, Title: "deleted", Date: base},
	}
	for _, e := range events {
		require.NoError(t, store.CreateEvent(ctx, e))
		require.NotEmpty(t, e.ID)
	}

	got, err := store.ListVisibleEvents(ctx, "austin-tx", model.ContentFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "global", got[0].Title, "newest first")
	assert.Equal(t, "local", got[1].Title)

	got, err = store.ListVisibleEvents(ctx, "austin-tx", model.ContentFilter{ActiveOnly: true, DateFrom: base.Add(72 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1, "date bound is inclusive")
	assert.Equal(t, "global", got[0].Title)

	got, err = store.ListEvents(ctx, model.ContentFilter{BranchID: "austin-tx"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "inactive rows are returned without ActiveOnly")

	got, err = store.ListEvents(ctx, model.ContentFilter{GlobalOnly: true, ActiveOnly: true, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Date.Equal(base.Add(72*time.Hour)))
}

func TestEventUpdateAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx")

	e := &model.Event{Content: model.Content{BranchID: "austin-tx", IsActive: true}, Title: "Fair"}
	require.NoError(t, store.CreateEvent(ctx, e))

	e.Title = "Street fair"
	e.Location = "Congress Ave"
	require.NoError(t, store.UpdateEvent(ctx, e))
	require.NoError(t, store.SetEventActive(ctx, e.ID, false))

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Street fair", got.Title)
	assert.Equal(t, "Congress Ave", got.Location)
	assert.False(t, got.IsActive)
	assert.Empty(t, got.Attendees)

	_, err = store.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetEventActive(ctx, "missing", false), ErrNotFound)
}

func TestTrendingOrderNeedsIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx")

	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range []int{2, 9} {
		require.NoError(t, store.CreateEvent(ctx, &model.Event{
			Content:       model.Content{BranchID: "austin-tx", IsActive: true},
			Title:         []string{"small", "big"}[i],
			Date:          day,
			AttendeeCount: n,
		}))
	}

	got, err := store.ListEvents(ctx, model.ContentFilter{BranchID: "austin-tx", Order: model.OrderDateAttendeesDesc})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "big", got[0].Title)

	_, err = store.DB().ExecContext(ctx, "DROP INDEX "+IndexEventsTrending)
	require.NoError(t, err)
	require.NoError(t, store.RefreshIndexes(ctx))

	_, err = store.ListEvents(ctx, model.ContentFilter{Order: model.OrderDateAttendeesDesc})
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = store.ListEvents(ctx, model.ContentFilter{Order: model.OrderDateDesc})
	assert.NoError(t, err, "other orders do not depend on the index")

	_, err = store.ListBusinesses(ctx, model.ContentFilter{Order: model.OrderDateDesc})
	assert.ErrorIs(t, err, ErrIndexRequired)
}

func TestAttendeesAndRecount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx")
	_, err := store.CreateUser(ctx, &model.User{ID: "u1"})
	require.NoError(t, err)

	e := &model.Event{Content: model.Content{BranchID: "austin-tx", IsActive: true}, Title: "Meetup"}
	require.NoError(t, store.CreateEvent(ctx, e))

	added, err := store.AddAttendee(ctx, e.ID, "u1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.AddAttendee(ctx, e.ID, "u1")
	require.NoError(t, err)
	assert.False(t, added, "attendee set has no duplicates")

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, u.AttendingEvents)

	require.NoError(t, store.SetAttendeeCount(ctx, e.ID, 7))
	n, err := store.RecountAttendees(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttendeeCount)
	assert.Equal(t, []string{"u1"}, got.Attendees)

	n, err = store.RecountAttendees(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing drifted")

	removed, err := store.RemoveAttendee(ctx, e.ID, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.RemoveAttendee(ctx, e.ID, "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	first, err := store.AddCheckIn(ctx, e.ID, "u1")
	require.NoError(t, err)
	again, err := store.AddCheckIn(ctx, e.ID, "u1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)
}

func TestAdjustAttendeeCountClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx")

	e := &model.Event{Content: model.Content{BranchID: "austin-tx", IsActive: true}, Title: "Meetup"}
	require.NoError(t, store.CreateEvent(ctx, e))
	require.NoError(t, store.SetAttendeeCount(ctx, e.ID, 1))

	require.NoError(t, store.AdjustAttendeeCount(ctx, e.ID, 2))
	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttendeeCount)

	require.NoError(t, store.AdjustAttendeeCount(ctx, e.ID, -5))
	got, err = store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, got.AttendeeCount)

	assert.ErrorIs(t, store.AdjustAttendeeCount(ctx, "missing", 1), ErrNotFound)
}

func TestImportedPostsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx", "dallas-tx")

	item := func(branch string) *model.Post {
		return &model.Post{BranchID: branch, Title: "Council meets", SourceGUID: "guid-1", IsActive: true}
	}
	created, err := store.AddImportedPost(ctx, item("austin-tx"))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = store.AddImportedPost(ctx, item("austin-tx"))
	require.NoError(t, err)
	assert.False(t, created)
	created, err = store.AddImportedPost(ctx, item("dallas-tx"))
	require.NoError(t, err)
	assert.True(t, created, "guids are unique per branch")

	// User posts carry no guid and never collide.
	for i := 0; i < 2; i++ {
		require.NoError(t, store.CreatePost(ctx, &model.Post{BranchID: "austin-tx", AuthorID: "u1", Content: "hi", IsActive: true}))
	}
	posts, err := store.ListPosts(ctx, "austin-tx", 0)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
}

func TestBusinessSubscriptionIsUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx")

	b := &model.Business{OwnerID: "u1", BranchID: "austin-tx", Name: "Tacos", IsActive: true, StripeSubscriptionID: "sub_1"}
	require.NoError(t, store.CreateBusiness(ctx, b))
	err := store.CreateBusiness(ctx, &model.Business{OwnerID: "u1", BranchID: "austin-tx", Name: "Tacos", StripeSubscriptionID: "sub_1"})
	assert.ErrorIs(t, err, ErrConflict)

	found, err := store.FindBusinessBySubscription(ctx, "u1", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	n, err := store.SetBusinessPromoted(ctx, "sub_1", true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err := store.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPromoted)
}

func TestMemberCounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedBranches(t, store, "austin-tx")

	require.NoError(t, store.AdjustMemberCount(ctx, "austin-tx", -3))
	b, err := store.GetBranch(ctx, "austin-tx")
	require.NoError(t, err)
	assert.Zero(t, b.MemberCount, "never below zero")
	assert.ErrorIs(t, store.AdjustMemberCount(ctx, "nowhere", 1), ErrNotFound)

	for _, id := range []string{"u1", "u2"} {
		_, err := store.CreateUser(ctx, &model.User{ID: id, HomeBranchID: "austin-tx"})
		require.NoError(t, err)
	}
	n, err := store.RecountBranchMembers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	b, err = store.GetBranch(ctx, "austin-tx")
	require.NoError(t, err)
	assert.Equal(t, 2, b.MemberCount)

	assert.ErrorIs(t, store.CreateBranch(ctx, &model.Branch{ID: "austin-tx", City: "Austin", State: "TX"}), ErrConflict)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(q Queries) error {
		if err := q.CreateBranch(ctx, &model.Branch{ID: "austin-tx", City: "Austin", State: "TX"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = store.GetBranch(ctx, "austin-tx")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.RunInTx(ctx, func(q Queries) error {
		return q.CreateBranch(ctx, &model.Branch{ID: "austin-tx", City: "Austin", State: "TX"})
	}))
	_, err = store.GetBranch(ctx, "austin-tx")
	assert.NoError(t, err)
}

func TestMessagesKeepSendOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	c := &model.Conversation{Participants: []string{"bob", "alice"}}
	require.NoError(t, store.CreateConversation(ctx, c))
	assert.ErrorIs(t, store.CreateConversation(ctx, &model.Conversation{Participants: []string{"alice", "bob"}}), ErrConflict)

	found, err := store.FindConversationByPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)
	assert.Equal(t, []string{"alice", "bob"}, found.Participants)

	at := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, store.AddMessage(ctx, &model.Message{ConversationID: c.ID, SenderID: "alice", Text: text, CreatedAt: at}))
	}

	msgs, err := store.ListMessages(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Text)
	assert.Equal(t, "three", msgs[1].Text)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))

	convs, err := store.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "three", convs[0].LastMessage)

	assert.ErrorIs(t, store.AddMessage(ctx, &model.Message{ConversationID: "missing", Text: "x"}), ErrNotFound)
}
