package content

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/metrics"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Page sizes and fetch bounds.
const (
	// FetchLimit bounds each server-side fetch feeding a merge.
	FetchLimit = 100
	// LatestPageSize is the length of "latest" lists.
	LatestPageSize = 20
	// AllPageSize is the length of "all" lists.
	AllPageSize = 100
	// SearchCandidateLimit is the number of active records search scans.
	// Matches outside the newest SearchCandidateLimit records are never found.
	SearchCandidateLimit = 100
	// SearchPageSize is the number of search results returned.
	SearchPageSize = 20
	// EventWindow is how far in the past an event may start and still be listed as latest.
	EventWindow = 24 * time.Hour
)

// Source is the query capability aggregation needs from the store.
type Source interface {
	ListEvents(ctx context.Context, f model.ContentFilter) ([]model.Event, error)
	ListJobs(ctx context.Context, f model.ContentFilter) ([]model.Job, error)
	ListBusinesses(ctx context.Context, f model.ContentFilter) ([]model.Business, error)
	ListPosts(ctx context.Context, branchID string, limit int) ([]model.Post, error)
}

// VisibleSource is implemented by stores that can return branch-or-global
// content in one server-side query.
type VisibleSource interface {
	ListVisibleEvents(ctx context.Context, branchID string, f model.ContentFilter) ([]model.Event, error)
	ListVisibleJobs(ctx context.Context, branchID string, f model.ContentFilter) ([]model.Job, error)
}

// Options tune a Service.
type Options struct {
	// ServerSideUnion uses VisibleSource when the source implements it.
	ServerSideUnion bool
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service builds the content lists shown for a branch.
// Every list operation is fail-soft: a fetch error yields an empty list.
type Service struct {
	src     Source
	visible VisibleSource
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewService creates a content service over src.
func NewService(src Source, log logrus.FieldLogger, opts Options) *Service {
	s := &Service{src: src, log: log, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if vs, ok := src.(VisibleSource); ok && opts.ServerSideUnion {
		s.visible = vs
	}
	return s
}

type fetchFunc[T any] func(ctx context.Context, f model.ContentFilter) ([]T, error)

type visibleFunc[T any] func(ctx context.Context, branchID string, f model.ContentFilter) ([]T, error)

// collect returns the merged union of branch-scoped and global items matching base.
func collect[T Item](ctx context.Context, branchID string, base model.ContentFilter, fetch fetchFunc[T], visible visibleFunc[T]) ([]T, error) {
	if visible != nil {
		f := base
		f.Limit = 2 * base.Limit
		items, err := visible(ctx, branchID, f)
		if err != nil {
			return nil, err
		}
		return Merge(items), nil
	}

	local, global := base, base
	local.BranchID = branchID
	global.GlobalOnly = true

	var localItems, globalItems []T
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localItems, err = fetch(gctx, local)
		return err
	})
	g.Go(func() error {
		var err error
		globalItems, err = fetch(gctx, global)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(localItems, globalItems), nil
}

func (s *Service) visibleEvents() visibleFunc[model.Event] {
	if s.visible == nil {
		return nil
	}
	return s.visible.ListVisibleEvents
}

func (s *Service) visibleJobs() visibleFunc[model.Job] {
	if s.visible == nil {
		return nil
	}
	return s.visible.ListVisibleJobs
}

func failSoft[T any](s *Service, op, branchID string, err error) []T {
	s.log.WithError(err).WithFields(logrus.Fields{
		"op":        op,
		"kind":      kindOf[T](),
		"branch_id": branchID,
	}).Error("content fetch failed, returning empty list")
	metrics.RecordFailSoft(op)
	return []T{}
}

// LatestEvents returns up to LatestPageSize active events visible in branchID
// whose date is no earlier than EventWindow ago, newest first.
func (s *Service) LatestEvents(ctx context.Context, branchID string) []model.Event {
	return s.events(ctx, "latest_events", branchID, true, LatestPageSize)
}

// AllEvents returns up to AllPageSize active events visible in branchID, newest first.
func (s *Service) AllEvents(ctx context.Context, branchID string) []model.Event {
	return s.events(ctx, "all_events", branchID, false, AllPageSize)
}

func (s *Service) events(ctx context.Context, op, branchID string, windowed bool, size int) []model.Event {
	f := model.ContentFilter{ActiveOnly: true, Order: model.OrderCreatedDesc, Limit: FetchLimit}
	var cutoff time.Time
	if windowed {
		cutoff = s.now().Add(-EventWindow)
		f.DateFrom = cutoff
	}
	items, err := collect(ctx, branchID, f, s.src.ListEvents, s.visibleEvents())
	if err != nil {
		return failSoft[model.Event](s, op, branchID, err)
	}
	items = Filter(items, func(e model.Event) bool {
		return e.IsActive && !e.Date.Before(cutoff)
	})
	return Truncate(items, size)
}

// TrendingEvents returns upcoming events ordered by date then attendee count.
// When the store cannot serve the compound order it falls back to date order.
func (s *Service) TrendingEvents(ctx context.Context, branchID string) []model.Event {
	const op = "trending_events"
	cutoff := s.now().Add(-EventWindow)
	f := model.ContentFilter{ActiveOnly: true, DateFrom: cutoff, Order: model.OrderDateAttendeesDesc, Limit: FetchLimit}

	items, err := collect(ctx, branchID, f, s.src.ListEvents, s.visibleEvents())
	if errors.Is(err, database.ErrIndexRequired) {
		s.log.WithError(err).WithField("branch_id", branchID).Warn("trending order unavailable, falling back to date order")
		metrics.RecordDegradedOrder(op)
		f.Order = model.OrderDateDesc
		items, err = collect(ctx, branchID, f, s.src.ListEvents, s.visibleEvents())
	}
	if err != nil {
		return failSoft[model.Event](s, op, branchID, err)
	}

	items = Filter(items, func(e model.Event) bool {
		return e.IsActive && !e.Date.Before(cutoff)
	})
	byAttendees := f.Order == model.OrderDateAttendeesDesc
	slices.SortStableFunc(items, func(a, b model.Event) int {
		if c := b.Date.Compare(a.Date); c != 0 || !byAttendees {
			return c
		}
		return b.AttendeeCount - a.AttendeeCount
	})
	return Truncate(items, LatestPageSize)
}

// LatestJobs returns up to LatestPageSize active jobs visible in branchID, newest first.
func (s *Service) LatestJobs(ctx context.Context, branchID string) []model.Job {
	return s.jobs(ctx, "latest_jobs", branchID, LatestPageSize)
}

// AllJobs returns up to AllPageSize active jobs visible in branchID, newest first.
func (s *Service) AllJobs(ctx context.Context, branchID string) []model.Job {
	return s.jobs(ctx, "all_jobs", branchID, AllPageSize)
}

func (s *Service) jobs(ctx context.Context, op, branchID string, size int) []model.Job {
	f := model.ContentFilter{ActiveOnly: true, Order: model.OrderCreatedDesc, Limit: FetchLimit}
	items, err := collect(ctx, branchID, f, s.src.ListJobs, s.visibleJobs())
	if err != nil {
		return failSoft[model.Job](s, op, branchID, err)
	}
	items = Filter(items, func(j model.Job) bool { return j.IsActive })
	return Truncate(items, size)
}

// BranchBusinesses returns active businesses of a branch, promoted ones first.
func (s *Service) BranchBusinesses(ctx context.Context, branchID string) []model.Business {
	items, err := s.src.ListBusinesses(ctx, model.ContentFilter{BranchID: branchID, ActiveOnly: true, Limit: AllPageSize})
	if err != nil {
		return failSoft[model.Business](s, "branch_businesses", branchID, err)
	}
	slices.SortStableFunc(items, func(a, b model.Business) int {
		switch {
		case a.IsPromoted == b.IsPromoted:
			return 0
		case a.IsPromoted:
			return -1
		default:
			return 1
		}
	})
	return items
}

// BranchPosts returns the latest active posts of a branch.
func (s *Service) BranchPosts(ctx context.Context, branchID string) []model.Post {
	posts, err := s.src.ListPosts(ctx, branchID, AllPageSize)
	if err != nil {
		return failSoft[model.Post](s, "branch_posts", branchID, err)
	}
	return posts
}

// SearchEvents matches term against event title, description and location.
func (s *Service) SearchEvents(ctx context.Context, term string) []model.Event {
	if isBlank(term) {
		return []model.Event{}
	}
	items, err := s.src.ListEvents(ctx, searchFilter())
	if err != nil {
		return failSoft[model.Event](s, "search_events", "", err)
	}
	return Search(items, term, SearchPageSize)
}

// SearchJobs matches term against job title, type, location and description.
func (s *Service) SearchJobs(ctx context.Context, term string) []model.Job {
	if isBlank(term) {
		return []model.Job{}
	}
	items, err := s.src.ListJobs(ctx, searchFilter())
	if err != nil {
		return failSoft[model.Job](s, "search_jobs", "", err)
	}
	return Search(items, term, SearchPageSize)
}

// SearchBusinesses matches term against business name, description and address.
func (s *Service) SearchBusinesses(ctx context.Context, term string) []model.Business {
	if isBlank(term) {
		return []model.Business{}
	}
	items, err := s.src.ListBusinesses(ctx, searchFilter())
	if err != nil {
		return failSoft[model.Business](s, "search_businesses", "", err)
	}
	return Search(items, term, SearchPageSize)
}

func kindOf[T any]() string {
	var zero T
	switch any(zero).(type) {
	case model.Event:
		return "events"
	case model.Job:
		return "jobs"
	case model.Business:
		return "businesses"
	case model.Post:
		return "posts"
	default:
		return "unknown"
	}
}

func searchFilter() model.ContentFilter {
	return model.ContentFilter{ActiveOnly: true, Order: model.OrderCreatedDesc, Limit: SearchCandidateLimit}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			return false
		}
	}
	return true
}
