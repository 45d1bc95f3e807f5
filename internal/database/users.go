package database

import (
	"context"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/google/uuid"
)

type userRow struct {
	ID                     string `db:"id"`
	Email                  string `db:"email"`
	DisplayName            string `db:"display_name"`
	HomeBranchID           string `db:"home_branch_id"`
	SelectedBranchID       string `db:"selected_branch_id"`
	Role                   string `db:"role"`
	SubscriptionStatus     string `db:"subscription_status"`
	StripeSubscriptionID   string `db:"stripe_subscription_id"`
	StripeCustomerID       string `db:"stripe_customer_id"`
	SubscriptionBusinessID string `db:"subscription_business_id"`
	SubscriptionUpdatedAt  int64  `db:"subscription_updated_at"`
	CreatedAt              int64  `db:"created_at"`
}

const userColumns = `id, email, display_name, home_branch_id, selected_branch_id, role, subscription_status,
	stripe_subscription_id, stripe_customer_id, subscription_business_id, subscription_updated_at, created_at`

func (r userRow) toModel() model.User {
	return model.User{
		ID:               r.ID,
		Email:            r.Email,
		DisplayName:      r.DisplayName,
		HomeBranchID:     r.HomeBranchID,
		SelectedBranchID: r.SelectedBranchID,
		Role:             r.Role,
		Subscription: model.Subscription{
			Status:               r.SubscriptionStatus,
			StripeSubscriptionID: r.StripeSubscriptionID,
			StripeCustomerID:     r.StripeCustomerID,
			BusinessID:           r.SubscriptionBusinessID,
			UpdatedAt:            fromMillis(r.SubscriptionUpdatedAt),
		},
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

type branchRow struct {
	ID          string `db:"id"`
	City        string `db:"city"`
	State       string `db:"state"`
	MemberCount int    `db:"member_count"`
	CreatedAt   int64  `db:"created_at"`
}

func (r branchRow) toModel() model.Branch {
	return model.Branch{
		ID:          r.ID,
		City:        r.City,
		State:       r.State,
		MemberCount: r.MemberCount,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

// --- User Methods ---

// CreateUser inserts a user if the id is not taken yet. Returns whether a row was created.
func (q *queries) CreateUser(ctx context.Context, u *model.User) (bool, error) {
	u.Normalize(time.Now())
	res, err := q.exec(ctx, `INSERT INTO users (id, email, display_name, home_branch_id, selected_branch_id, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		u.ID, u.Email, u.DisplayName, u.HomeBranchID, u.SelectedBranchID, u.Role, toMillis(u.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetUser returns a user with the events they attend.
func (q *queries) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	if err := q.get(ctx, &row, "SELECT "+userColumns+" FROM users WHERE id = ?", id); err != nil {
		return nil, err
	}
	u := row.toModel()
	attending := []string{}
	if err := q.selectRows(ctx, &attending,
		"SELECT event_id FROM event_attendees WHERE user_id = ? ORDER BY created_at, event_id", id); err != nil {
		return nil, err
	}
	u.AttendingEvents = attending
	return &u, nil
}

// FindUserBySubscription returns the user holding a payment subscription.
func (q *queries) FindUserBySubscription(ctx context.Context, subscriptionID string) (*model.User, error) {
	var row userRow
	if err := q.get(ctx, &row, "SELECT "+userColumns+" FROM users WHERE stripe_subscription_id = ?", subscriptionID); err != nil {
		return nil, err
	}
	u := row.toModel()
	return &u, nil
}

// SetUserHomeBranch updates the user's home branch.
func (q *queries) SetUserHomeBranch(ctx context.Context, userID, branchID string) error {
	return q.execOne(ctx, "UPDATE users SET home_branch_id = ? WHERE id = ?", branchID, userID)
}

// SetUserSelectedBranch updates the branch the user is currently browsing.
func (q *queries) SetUserSelectedBranch(ctx context.Context, userID, branchID string) error {
	return q.execOne(ctx, "UPDATE users SET selected_branch_id = ? WHERE id = ?", branchID, userID)
}

// UpdateUserSubscription overwrites the user's subscription fields.
func (q *queries) UpdateUserSubscription(ctx context.Context, userID string, s model.Subscription) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	return q.execOne(ctx, `UPDATE users SET subscription_status = ?, stripe_subscription_id = ?,
		stripe_customer_id = ?, subscription_business_id = ?, subscription_updated_at = ? WHERE id = ?`,
		s.Status, s.StripeSubscriptionID, s.StripeCustomerID, s.BusinessID, toMillis(s.UpdatedAt), userID)
}

// --- Branch Methods ---

// CreateBranch inserts a branch, assigning an ID if none is set.
func (q *queries) CreateBranch(ctx context.Context, b *model.Branch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `INSERT INTO branches (id, city, state, member_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.City, b.State, b.MemberCount, toMillis(b.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetBranch returns a branch by id.
func (q *queries) GetBranch(ctx context.Context, id string) (*model.Branch, error) {
	var row branchRow
	if err := q.get(ctx, &row, "SELECT id, city, state, member_count, created_at FROM branches WHERE id = ?", id); err != nil {
		return nil, err
	}
	b := row.toModel()
	return &b, nil
}

// ListBranches returns all branches, optionally restricted to one state, ordered by state and city.
func (q *queries) ListBranches(ctx context.Context, state string) ([]model.Branch, error) {
	w := &where{}
	if state != "" {
		w.add("state = ?", state)
	}
	var rows []branchRow
	if err := q.selectRows(ctx, &rows,
		"SELECT id, city, state, member_count, created_at FROM branches"+w.String()+" ORDER BY state, city", w.args...); err != nil {
		return nil, err
	}
	branches := make([]model.Branch, 0, len(rows))
	for _, r := range rows {
		branches = append(branches, r.toModel())
	}
	return branches, nil
}

// AdjustMemberCount adds delta to a branch's member count, never going below zero.
func (q *queries) AdjustMemberCount(ctx context.Context, branchID string, delta int) error {
	return q.execOne(ctx, `UPDATE branches SET member_count =
		CASE WHEN member_count + ? < 0 THEN 0 ELSE member_count + ? END WHERE id = ?`,
		delta, delta, branchID)
}

// RecountBranchMembers rewrites member counts from users' home branches. Returns rows changed.
func (q *queries) RecountBranchMembers(ctx context.Context) (int64, error) {
	res, err := q.exec(ctx, `UPDATE branches SET member_count =
		(SELECT COUNT(*) FROM users u WHERE u.home_branch_id = branches.id)
		WHERE member_count <> (SELECT COUNT(*) FROM users u WHERE u.home_branch_id = branches.id)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetBranchStats counts active content in a branch.
func (q *queries) GetBranchStats(ctx context.Context, branchID string) (*model.BranchStats, error) {
	b, err := q.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	stats := &model.BranchStats{BranchID: branchID, MemberCount: b.MemberCount}
	counts := []struct {
		dest  *int
		query string
	}{
		{&stats.Events, "SELECT COUNT(*) FROM events WHERE branch_id = ? AND is_active = ?"},
		{&stats.Jobs, "SELECT COUNT(*) FROM jobs WHERE branch_id = ? AND is_active = ?"},
		{&stats.Businesses, "SELECT COUNT(*) FROM businesses WHERE branch_id = ? AND is_active = ?"},
		{&stats.Posts, "SELECT COUNT(*) FROM posts WHERE branch_id = ? AND is_active = ?"},
	}
	for _, c := range counts {
		if err := q.get(ctx, c.dest, c.query, branchID, true); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
