package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/logging"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type mockSource struct {
	mu             sync.Mutex
	filters        []model.ContentFilter
	listEvents     func(f model.ContentFilter) ([]model.Event, error)
	listJobs       func(f model.ContentFilter) ([]model.Job, error)
	listBusinesses func(f model.ContentFilter) ([]model.Business, error)
	listPosts      func(branchID string, limit int) ([]model.Post, error)
}

func (m *mockSource) record(f model.ContentFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
}

func (m *mockSource) ListEvents(_ context.Context, f model.ContentFilter) ([]model.Event, error) {
	m.record(f)
	if m.listEvents == nil {
		return nil, nil
	}
	return m.listEvents(f)
}

func (m *mockSource) ListJobs(_ context.Context, f model.ContentFilter) ([]model.Job, error) {
	m.record(f)
	if m.listJobs == nil {
		return nil, nil
	}
	return m.listJobs(f)
}

func (m *mockSource) ListBusinesses(_ context.Context, f model.ContentFilter) ([]model.Business, error) {
	m.record(f)
	if m.listBusinesses == nil {
		return nil, nil
	}
	return m.listBusinesses(f)
}

func (m *mockSource) ListPosts(_ context.Context, branchID string, limit int) ([]model.Post, error) {
	if m.listPosts == nil {
		return nil, nil
	}
	return m.listPosts(branchID, limit)
}

type visibleMock struct {
	*mockSource
	visibleCalls int
	events       []model.Event
}

func (v *visibleMock) ListVisibleEvents(_ context.Context, branchID string, f model.ContentFilter) ([]model.Event, error) {
	v.visibleCalls++
	return v.events, nil
}

func (v *visibleMock) ListVisibleJobs(_ context.Context, branchID string, f model.ContentFilter) ([]model.Job, error) {
	v.visibleCalls++
	return []model.Job{}, nil
}

func newService(src Source) *Service {
	return NewService(src, logging.Discard(), Options{Now: func() time.Time { return now }})
}

func event(id string, created time.Time, date time.Time) model.Event {
	return model.Event{
		Content: model.Content{ID: id, BranchID: "b1", IsActive: true, CreatedAt: created},
		Title:   "Event " + id,
		Date:    date,
	}
}

func job(id string, created time.Time) model.Job {
	return model.Job{
		Content: model.Content{ID: id, BranchID: "b1", IsActive: true, CreatedAt: created},
		Title:   "Job " + id,
	}
}

func ids[T Item](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key())
	}
	return out
}

func TestMergeDeduplicatesAndSortsNewest(t *testing.T) {
	a := event("a", now.Add(-3*time.Hour), now)
	b := event("b", now.Add(-1*time.Hour), now)
	c := event("c", now.Add(-2*time.Hour), now)
	bGlobal := b
	bGlobal.IsGlobal = true

	merged := Merge([]model.Event{a, b}, []model.Event{bGlobal, c})

	assert.Equal(t, []string{"b", "c", "a"}, ids(merged))
	assert.False(t, merged[0].IsGlobal, "first occurrence wins")
}

func TestMergeStableOnEqualTimestamps(t *testing.T) {
	ts := now.Add(-time.Hour)
	merged := Merge([]model.Job{job("x", ts), job("y", ts)}, []model.Job{job("z", ts)})
	assert.Equal(t, []string{"x", "y", "z"}, ids(merged))
}

func TestLatestEventsUnionOfBranchAndGlobal(t *testing.T) {
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			if f.GlobalOnly {
				g := event("shared", now.Add(-time.Hour), now)
				g.IsGlobal = true
				return []model.Event{g, event("g1", now.Add(-4*time.Hour), now)}, nil
			}
			return []model.Event{event("shared", now.Add(-time.Hour), now), event("l1", now.Add(-2*time.Hour), now)}, nil
		},
	}

	got := newService(src).LatestEvents(context.Background(), "b1")

	assert.Equal(t, []string{"shared", "l1", "g1"}, ids(got))
	require.Len(t, src.filters, 2)
	for _, f := range src.filters {
		assert.True(t, f.ActiveOnly)
		assert.Equal(t, now.Add(-EventWindow), f.DateFrom)
		assert.Equal(t, FetchLimit, f.Limit)
	}
}

func TestLatestEventsWindowBoundary(t *testing.T) {
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			if f.GlobalOnly {
				return nil, nil
			}
			return []model.Event{
				event("edge", now, now.Add(-EventWindow)),
				event("stale", now, now.Add(-EventWindow-time.Millisecond)),
				event("soon", now, now.Add(time.Hour)),
			}, nil
		},
	}

	got := newService(src).LatestEvents(context.Background(), "b1")
	assert.ElementsMatch(t, []string{"edge", "soon"}, ids(got))
}

func TestLatestEventsWindowBoundaryInStore(t *testing.T) {
	ctx := context.Background()
	store, err := database.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	boundary := now.Add(-EventWindow)
	for id, date := range map[string]time.Time{
		"after":    boundary.Add(time.Millisecond),
		"boundary": boundary,
		"stale":    boundary.Add(-time.Millisecond),
	} {
		require.NoError(t, store.CreateEvent(ctx, &model.Event{
			Content: model.Content{ID: id, BranchID: "b1", IsActive: true, CreatedAt: now},
			Title:   id,
			Date:    date,
		}))
	}

	// With a sub-millisecond clock the cutoff lies between two stored values.
	clock := now.Add(500 * time.Microsecond)
	for _, union := range []bool{true, false} {
		svc := NewService(store, logging.Discard(), Options{ServerSideUnion: union, Now: func() time.Time { return now }})
		assert.ElementsMatch(t, []string{"after", "boundary"}, ids(svc.LatestEvents(ctx, "b1")), "server-side union %v", union)

		svc = NewService(store, logging.Discard(), Options{ServerSideUnion: union, Now: func() time.Time { return clock }})
		assert.ElementsMatch(t, []string{"after"}, ids(svc.LatestEvents(ctx, "b1")), "server-side union %v", union)
	}
}

func TestLatestEventsTruncates(t *testing.T) {
	var events []model.Event
	for i := 0; i < 30; i++ {
		events = append(events, event(fmt.Sprintf("e%02d", i), now.Add(-time.Duration(i)*time.Minute), now))
	}
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			if f.GlobalOnly {
				return nil, nil
			}
			return events, nil
		},
	}

	got := newService(src).LatestEvents(context.Background(), "b1")
	require.Len(t, got, LatestPageSize)
	assert.Equal(t, "e00", got[0].ID)
}

func TestAllEventsSkipsWindowAndInactive(t *testing.T) {
	inactive := event("off", now, now)
	inactive.IsActive = false
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			assert.True(t, f.DateFrom.IsZero())
			if f.GlobalOnly {
				return nil, nil
			}
			return []model.Event{event("old", now, now.AddDate(-1, 0, 0)), inactive}, nil
		},
	}

	got := newService(src).AllEvents(context.Background(), "b1")
	assert.Equal(t, []string{"old"}, ids(got))
}

func TestListsFailSoft(t *testing.T) {
	boom := errors.New("backend unavailable")
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			if f.GlobalOnly {
				return nil, boom
			}
			return []model.Event{event("l1", now, now)}, nil
		},
		listJobs:       func(model.ContentFilter) ([]model.Job, error) { return nil, boom },
		listBusinesses: func(model.ContentFilter) ([]model.Business, error) { return nil, boom },
		listPosts:      func(string, int) ([]model.Post, error) { return nil, boom },
	}
	svc := newService(src)
	ctx := context.Background()

	events := svc.LatestEvents(ctx, "b1")
	require.NotNil(t, events)
	assert.Empty(t, events)

	jobs := svc.AllJobs(ctx, "b1")
	require.NotNil(t, jobs)
	assert.Empty(t, jobs)

	assert.NotNil(t, svc.TrendingEvents(ctx, "b1"))
	assert.NotNil(t, svc.SearchBusinesses(ctx, "bakery"))
	assert.NotNil(t, svc.BranchBusinesses(ctx, "b1"))
	assert.NotNil(t, svc.BranchPosts(ctx, "b1"))
}

func TestTrendingOrdersByDateThenAttendees(t *testing.T) {
	day := now.Add(48 * time.Hour)
	quiet := event("quiet", now, day)
	quiet.AttendeeCount = 2
	busy := event("busy", now, day)
	busy.AttendeeCount = 9
	later := event("later", now, day.Add(time.Hour))

	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			assert.Equal(t, model.OrderDateAttendeesDesc, f.Order)
			if f.GlobalOnly {
				return nil, nil
			}
			return []model.Event{quiet, busy, later}, nil
		},
	}

	got := newService(src).TrendingEvents(context.Background(), "b1")
	assert.Equal(t, []string{"later", "busy", "quiet"}, ids(got))
}

func TestTrendingFallsBackWithoutIndex(t *testing.T) {
	day := now.Add(24 * time.Hour)
	a := event("a", now, day)
	a.AttendeeCount = 1
	b := event("b", now, day)
	b.AttendeeCount = 50
	c := event("c", now, day.Add(time.Hour))

	var orders []model.Order
	var mu sync.Mutex
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			mu.Lock()
			orders = append(orders, f.Order)
			mu.Unlock()
			if f.Order == model.OrderDateAttendeesDesc {
				return nil, fmt.Errorf("order: %w", database.ErrIndexRequired)
			}
			if f.GlobalOnly {
				return nil, nil
			}
			return []model.Event{a, b, c}, nil
		},
	}

	got := newService(src).TrendingEvents(context.Background(), "b1")

	require.NotEmpty(t, got)
	assert.Equal(t, "c", got[0].ID)
	// date-only order keeps same-day events in merge order
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	assert.Contains(t, orders, model.OrderDateDesc)
}

func TestSearchBoundsResults(t *testing.T) {
	var all []model.Event
	for i := 0; i < 150; i++ {
		e := event(fmt.Sprintf("e%03d", i), now.Add(-time.Duration(i)*time.Minute), now)
		e.Title = "Summer picnic"
		all = append(all, e)
	}
	src := &mockSource{
		listEvents: func(f model.ContentFilter) ([]model.Event, error) {
			return Truncate(all, f.Limit), nil
		},
	}

	got := newService(src).SearchEvents(context.Background(), "PICNIC")

	require.Len(t, got, SearchPageSize)
	assert.Equal(t, "e000", got[0].ID)
	require.Len(t, src.filters, 1)
	assert.Equal(t, SearchCandidateLimit, src.filters[0].Limit)
	assert.True(t, src.filters[0].ActiveOnly)
}

func TestSearchMatchesAnyField(t *testing.T) {
	j1 := job("j1", now.Add(-time.Hour))
	j1.Location = "Downtown Austin"
	j2 := job("j2", now)
	j2.Type = "Part-time"
	j3 := job("j3", now)

	src := &mockSource{
		listJobs: func(model.ContentFilter) ([]model.Job, error) { return []model.Job{j1, j2, j3}, nil },
	}
	svc := newService(src)

	assert.Equal(t, []string{"j1"}, ids(svc.SearchJobs(context.Background(), "austin")))
	assert.Equal(t, []string{"j2"}, ids(svc.SearchJobs(context.Background(), "part-TIME")))
}

func TestSearchBlankTermReturnsEmpty(t *testing.T) {
	src := &mockSource{}
	got := newService(src).SearchBusinesses(context.Background(), "  ")
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, src.filters, "blank search must not query the store")
}

func TestBranchBusinessesPromotedFirst(t *testing.T) {
	src := &mockSource{
		listBusinesses: func(f model.ContentFilter) ([]model.Business, error) {
			assert.Equal(t, "b1", f.BranchID)
			return []model.Business{
				{ID: "plain", IsActive: true},
				{ID: "promoted", IsActive: true, IsPromoted: true},
			}, nil
		},
	}
	got := newService(src).BranchBusinesses(context.Background(), "b1")
	assert.Equal(t, []string{"promoted", "plain"}, ids(got))
}

func TestServerSideUnion(t *testing.T) {
	src := &visibleMock{
		mockSource: &mockSource{},
		events: []model.Event{
			event("a", now.Add(-time.Hour), now),
			event("b", now, now),
		},
	}
	svc := NewService(src, logging.Discard(), Options{
		ServerSideUnion: true,
		Now:             func() time.Time { return now },
	})

	got := svc.AllEvents(context.Background(), "b1")
	assert.Equal(t, []string{"b", "a"}, ids(got))
	assert.Equal(t, 1, src.visibleCalls)
	assert.Empty(t, src.filters, "per-scope queries are not used")

	svc.LatestJobs(context.Background(), "b1")
	assert.Equal(t, 2, src.visibleCalls)
}

func TestServerSideUnionDisabled(t *testing.T) {
	src := &visibleMock{mockSource: &mockSource{}}
	svc := newService(src)

	svc.AllEvents(context.Background(), "b1")
	assert.Zero(t, src.visibleCalls)
	assert.Len(t, src.filters, 2)
}
