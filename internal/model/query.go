package model

import "time"

// Order selects the sort applied by the store to a content query.
type Order int

const (
	// OrderCreatedDesc sorts by creation time, newest first.
	OrderCreatedDesc Order = iota
	// OrderDateDesc sorts events by event date, latest first.
	OrderDateDesc
	// OrderDateAttendeesDesc sorts events by date then attendee count.
	// Stores may refuse it when no supporting index exists.
	OrderDateAttendeesDesc
)

func (o Order) String() string {
	switch o {
	case OrderDateDesc:
		return "date"
	case OrderDateAttendeesDesc:
		return "date,attendees"
	default:
		return "created"
	}
}

// ContentFilter is a conjunction of equality filters applied to a content collection.
// Zero values mean "no constraint" except ActiveOnly, which callers set explicitly.
type ContentFilter struct {
	BranchID   string
	GlobalOnly bool
	ActiveOnly bool
	DateFrom   time.Time // events only; zero disables
	Order      Order
	Limit      int
}

// NewContent returns the shared fields of a newly published event or job:
// active, branch-scoped and created now.
func NewContent(branchID, createdBy string, now time.Time) Content {
	return Content{BranchID: branchID, IsActive: true, CreatedBy: createdBy, CreatedAt: now}
}

// Normalize fills the defaults a freshly submitted event carries.
func (e *Event) Normalize(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.AttendeeCount < 0 {
		e.AttendeeCount = 0
	}
	if e.Attendees == nil {
		e.Attendees = []string{}
	}
}

// Normalize fills the defaults a freshly submitted job carries.
func (j *Job) Normalize(now time.Time) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
}

// Normalize fills the defaults for a user record.
func (u *User) Normalize(now time.Time) {
	if u.Role == "" {
		u.Role = RoleMember
	}
	if u.AttendingEvents == nil {
		u.AttendingEvents = []string{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
}
