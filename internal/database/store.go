// Package database provides storage backends for CityFam.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/cityfam/cityfam/internal/model"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIndexRequired is returned when a query asks for an ordering the store
	// cannot serve without a supporting index.
	ErrIndexRequired = errors.New("query requires an index")
	// ErrConflict is returned when a write collides with a unique constraint.
	ErrConflict = errors.New("conflict")
)

// Queries is the set of document operations available both on the store and
// inside a transaction.
type Queries interface {
	// Event operations
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	UpdateEvent(ctx context.Context, e *model.Event) error
	SetEventActive(ctx context.Context, id string, active bool) error
	ListEvents(ctx context.Context, f model.ContentFilter) ([]model.Event, error)
	ListVisibleEvents(ctx context.Context, branchID string, f model.ContentFilter) ([]model.Event, error)
	AddAttendee(ctx context.Context, eventID, userID string) (bool, error)
	RemoveAttendee(ctx context.Context, eventID, userID string) (bool, error)
	SetAttendeeCount(ctx context.Context, eventID string, n int) error
	AdjustAttendeeCount(ctx context.Context, eventID string, delta int) error
	RecountAttendees(ctx context.Context) (int64, error)
	AddCheckIn(ctx context.Context, eventID, userID string) (bool, error)

	// Job operations
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	SetJobActive(ctx context.Context, id string, active bool) error
	ListJobs(ctx context.Context, f model.ContentFilter) ([]model.Job, error)
	ListVisibleJobs(ctx context.Context, branchID string, f model.ContentFilter) ([]model.Job, error)

	// Post operations
	CreatePost(ctx context.Context, p *model.Post) error
	AddImportedPost(ctx context.Context, p *model.Post) (bool, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	SetPostActive(ctx context.Context, id string, active bool) error
	ListPosts(ctx context.Context, branchID string, limit int) ([]model.Post, error)

	// Business operations
	CreateBusiness(ctx context.Context, b *model.Business) error
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListBusinesses(ctx context.Context, f model.ContentFilter) ([]model.Business, error)
	FindBusinessBySubscription(ctx context.Context, ownerID, subscriptionID string) (*model.Business, error)
	SetBusinessPromoted(ctx context.Context, subscriptionID string, promoted bool) (int64, error)
	CreateSupportingCompany(ctx context.Context, c *model.SupportingCompany) error
	FindSupportingCompanyBySubscription(ctx context.Context, ownerID, subscriptionID string) (*model.SupportingCompany, error)
	SetSupportingCompanyActive(ctx context.Context, subscriptionID string, active bool) (int64, error)

	// User operations
	CreateUser(ctx context.Context, u *model.User) (bool, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	FindUserBySubscription(ctx context.Context, subscriptionID string) (*model.User, error)
	SetUserHomeBranch(ctx context.Context, userID, branchID string) error
	SetUserSelectedBranch(ctx context.Context, userID, branchID string) error
	UpdateUserSubscription(ctx context.Context, userID string, s model.Subscription) error

	// Branch operations
	CreateBranch(ctx context.Context, b *model.Branch) error
	GetBranch(ctx context.Context, id string) (*model.Branch, error)
	ListBranches(ctx context.Context, state string) ([]model.Branch, error)
	AdjustMemberCount(ctx context.Context, branchID string, delta int) error
	RecountBranchMembers(ctx context.Context) (int64, error)
	GetBranchStats(ctx context.Context, branchID string) (*model.BranchStats, error)

	// Chat operations
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	AddMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	// Analytics operations
	AddAnalyticsEvent(ctx context.Context, e *model.AnalyticsEvent) error

	// Branch feed operations
	GetOrCreateBranchFeed(ctx context.Context, branchID, title, url string) (string, bool, error)
	ListBranchFeeds(ctx context.Context, branchID string) ([]model.BranchFeed, error)
	UpdateFeedLastFetched(ctx context.Context, feedID string, t time.Time) error
	UpdateFeedTitle(ctx context.Context, feedID, title string) error
	UpdateFeedError(ctx context.Context, feedID, errMsg string) error
	DeleteBranchFeed(ctx context.Context, feedID string) error
}

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Queries

	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// RunInTx runs fn inside a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(q Queries) error) error
}
