// Package model defines shared data structures.
package model

import "time"

// Content holds the fields shared by branch-scoped content items (events and jobs).
type Content struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branchId"`
	IsGlobal  bool      `json:"isGlobal"`
	IsActive  bool      `json:"isActive"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the identity used when merging result sets.
func (c Content) Key() string { return c.ID }

// Created returns the creation time used for recency ordering.
func (c Content) Created() time.Time { return c.CreatedAt }

// Event is a dated community event.
type Event struct {
	Content
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	ImageURL      string    `json:"imageUrl"`
	Date          time.Time `json:"date"`
	AttendeeCount int       `json:"attendeeCount"`
	Attendees     []string  `json:"attendees"`
}

// SearchText returns the fields matched by free-text search.
func (e Event) SearchText() []string {
	return []string{e.Title, e.Description, e.Location}
}

// HasAttendee reports whether userID is in the attendee set.
func (e Event) HasAttendee(userID string) bool {
	for _, id := range e.Attendees {
		if id == userID {
			return true
		}
	}
	return false
}

// Job is a job listing.
type Job struct {
	Content
	Title       string `json:"title"`
	Type        string `json:"type"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Salary      string `json:"salary"`
	ApplyURL    string `json:"applyUrl"`
}

// SearchText returns the fields matched by free-text search.
func (j Job) SearchText() []string {
	return []string{j.Title, j.Type, j.Location, j.Description}
}

// Post is a social post in a branch, either user-authored or imported from a branch feed.
type Post struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branchId"`
	AuthorID   string    `json:"authorId"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Link       string    `json:"link"`
	ImageURL   string    `json:"imageUrl"`
	SourceGUID string    `json:"sourceGuid,omitempty"` // set for feed imports
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Business is a listed local business. Promoted businesses hold a paid subscription.
type Business struct {
	ID                   string    `json:"id"`
	OwnerID              string    `json:"ownerId"`
	BranchID             string    `json:"branchId"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	Address              string    `json:"address"`
	Phone                string    `json:"phone"`
	Website              string    `json:"website"`
	Category             string    `json:"category"`
	LogoURL              string    `json:"logoUrl"`
	IsActive             bool      `json:"isActive"`
	IsPromoted           bool      `json:"isPromoted"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId,omitempty"`
	StripeCustomerID     string    `json:"stripeCustomerId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Key returns the business id.
func (b Business) Key() string { return b.ID }

// Created returns the creation time.
func (b Business) Created() time.Time { return b.CreatedAt }

// SearchText returns the fields matched by free-text search.
func (b Business) SearchText() []string {
	return []string{b.Name, b.Description, b.Address}
}

// SupportingCompany is the sponsor record shown for a paying business.
type SupportingCompany struct {
	ID                   string    `json:"id"`
	BusinessID           string    `json:"businessId"`
	OwnerID              string    `json:"ownerId"`
	Name                 string    `json:"name"`
	LogoURL              string    `json:"logoUrl"`
	Website              string    `json:"website"`
	Tier                 string    `json:"tier"`
	IsActive             bool      `json:"isActive"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Subscription states stored on a user.
const (
	SubscriptionNone     = ""
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Subscription is the paid-tier state denormalized onto a user.
type Subscription struct {
	Status               string    `json:"status"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId,omitempty"`
	StripeCustomerID     string    `json:"stripeCustomerId,omitempty"`
	BusinessID           string    `json:"businessId,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// User roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User is an authenticated member. ID is the identity provider's uid.
type User struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	DisplayName      string       `json:"displayName"`
	HomeBranchID     string       `json:"homeBranchId"`
	SelectedBranchID string       `json:"selectedBranchId"`
	Role             string       `json:"role"`
	AttendingEvents  []string     `json:"attendingEvents"`
	Subscription     Subscription `json:"subscription"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Branch is a geographic community partition.
type Branch struct {
	ID          string    `json:"id"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Conversation is a chat thread between participants.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	LastMessage  string    `json:"lastMessage"`
	UpdatedAt    time.Time `json:"updatedAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AnalyticsEvent is a recorded usage event.
type AnalyticsEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	BranchID  string    `json:"branchId"`
	UserID    string    `json:"userId"`
	TargetID  string    `json:"targetId"`
	CreatedAt time.Time `json:"createdAt"`
}

// BranchStats summarizes active content in a branch.
type BranchStats struct {
	BranchID    string `json:"branchId"`
	Events      int    `json:"events"`
	Jobs        int    `json:"jobs"`
	Businesses  int    `json:"businesses"`
	Posts       int    `json:"posts"`
	MemberCount int    `json:"memberCount"`
}

// BranchFeed is an RSS/Atom source whose items are imported as branch posts.
type BranchFeed struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branchId"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	LastFetched time.Time `json:"lastFetched"`
	LastError   string    `json:"lastError"`
}
