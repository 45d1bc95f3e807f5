package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/google/uuid"
)

type businessRow struct {
	ID                   string `db:"id"`
	OwnerID              string `db:"owner_id"`
	BranchID             string `db:"branch_id"`
	Name                 string `db:"name"`
	Description          string `db:"description"`
	Address              string `db:"address"`
	Phone                string `db:"phone"`
	Website              string `db:"website"`
	Category             string `db:"category"`
	LogoURL              string `db:"logo_url"`
	IsActive             bool   `db:"is_active"`
	IsPromoted           bool   `db:"is_promoted"`
	StripeSubscriptionID string `db:"stripe_subscription_id"`
	StripeCustomerID     string `db:"stripe_customer_id"`
	CreatedAt            int64  `db:"created_at"`
}

const businessColumns = `id, owner_id, branch_id, name, description, address, phone, website, category, logo_url,
	is_active, is_promoted, stripe_subscription_id, stripe_customer_id, created_at`

func (r businessRow) toModel() model.Business {
	return model.Business{
		ID:                   r.ID,
		OwnerID:              r.OwnerID,
		BranchID:             r.BranchID,
		Name:                 r.Name,
		Description:          r.Description,
		Address:              r.Address,
		Phone:                r.Phone,
		Website:              r.Website,
		Category:             r.Category,
		LogoURL:              r.LogoURL,
		IsActive:             r.IsActive,
		IsPromoted:           r.IsPromoted,
		StripeSubscriptionID: r.StripeSubscriptionID,
		StripeCustomerID:     r.StripeCustomerID,
		CreatedAt:            fromMillis(r.CreatedAt),
	}
}

type supportingCompanyRow struct {
	ID                   string `db:"id"`
	BusinessID           string `db:"business_id"`
	OwnerID              string `db:"owner_id"`
	Name                 string `db:"name"`
	LogoURL              string `db:"logo_url"`
	Website              string `db:"website"`
	Tier                 string `db:"tier"`
	IsActive             bool   `db:"is_active"`
	StripeSubscriptionID string `db:"stripe_subscription_id"`
	CreatedAt            int64  `db:"created_at"`
}

const supportingCompanyColumns = `id, business_id, owner_id, name, logo_url, website, tier, is_active,
	stripe_subscription_id, created_at`

func (r supportingCompanyRow) toModel() model.SupportingCompany {
	return model.SupportingCompany{
		ID:                   r.ID,
		BusinessID:           r.BusinessID,
		OwnerID:              r.OwnerID,
		Name:                 r.Name,
		LogoURL:              r.LogoURL,
		Website:              r.Website,
		Tier:                 r.Tier,
		IsActive:             r.IsActive,
		StripeSubscriptionID: r.StripeSubscriptionID,
		CreatedAt:            fromMillis(r.CreatedAt),
	}
}

// --- Business Methods ---

// CreateBusiness inserts a business. A second business for the same
// (owner, subscription) pair fails with ErrConflict.
func (q *queries) CreateBusiness(ctx context.Context, b *model.Business) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `INSERT INTO businesses (`+businessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.BranchID, b.Name, b.Description, b.Address, b.Phone, b.Website, b.Category, b.LogoURL,
		b.IsActive, b.IsPromoted, b.StripeSubscriptionID, b.StripeCustomerID, toMillis(b.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("business for subscription %s: %w", b.StripeSubscriptionID, ErrConflict)
	}
	return err
}

// GetBusiness returns a business by id.
func (q *queries) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	var row businessRow
	if err := q.get(ctx, &row, "SELECT "+businessColumns+" FROM businesses WHERE id = ?", id); err != nil {
		return nil, err
	}
	b := row.toModel()
	return &b, nil
}

// ListBusinesses returns businesses filtered by branch and active flag, newest first.
func (q *queries) ListBusinesses(ctx context.Context, f model.ContentFilter) ([]model.Business, error) {
	w := &where{}
	if f.BranchID != "" {
		w.add("branch_id = ?", f.BranchID)
	}
	if f.ActiveOnly {
		w.add("is_active = ?", true)
	}
	if f.Order != model.OrderCreatedDesc {
		return nil, fmt.Errorf("order businesses by %s: %w", f.Order, ErrIndexRequired)
	}
	var rows []businessRow
	query := "SELECT " + businessColumns + " FROM businesses" + w.String() + " ORDER BY created_at DESC, id" + limitClause(f.Limit)
	if err := q.selectRows(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	out := make([]model.Business, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// FindBusinessBySubscription looks up the business materialized for (owner, subscription).
func (q *queries) FindBusinessBySubscription(ctx context.Context, ownerID, subscriptionID string) (*model.Business, error) {
	var row businessRow
	if err := q.get(ctx, &row, "SELECT "+businessColumns+" FROM businesses WHERE owner_id = ? AND stripe_subscription_id = ?",
		ownerID, subscriptionID); err != nil {
		return nil, err
	}
	b := row.toModel()
	return &b, nil
}

// SetBusinessPromoted toggles promotion for every business on a subscription.
func (q *queries) SetBusinessPromoted(ctx context.Context, subscriptionID string, promoted bool) (int64, error) {
	res, err := q.exec(ctx, "UPDATE businesses SET is_promoted = ? WHERE stripe_subscription_id = ?", promoted, subscriptionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateSupportingCompany inserts a supporting company record.
func (q *queries) CreateSupportingCompany(ctx context.Context, c *model.SupportingCompany) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `INSERT INTO supporting_companies (`+supportingCompanyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BusinessID, c.OwnerID, c.Name, c.LogoURL, c.Website, c.Tier, c.IsActive,
		c.StripeSubscriptionID, toMillis(c.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("supporting company for subscription %s: %w", c.StripeSubscriptionID, ErrConflict)
	}
	return err
}

// FindSupportingCompanyBySubscription looks up the supporting company for (owner, subscription).
func (q *queries) FindSupportingCompanyBySubscription(ctx context.Context, ownerID, subscriptionID string) (*model.SupportingCompany, error) {
	var row supportingCompanyRow
	if err := q.get(ctx, &row, "SELECT "+supportingCompanyColumns+
		" FROM supporting_companies WHERE owner_id = ? AND stripe_subscription_id = ?", ownerID, subscriptionID); err != nil {
		return nil, err
	}
	c := row.toModel()
	return &c, nil
}

// SetSupportingCompanyActive toggles every supporting company on a subscription.
func (q *queries) SetSupportingCompanyActive(ctx context.Context, subscriptionID string, active bool) (int64, error) {
	res, err := q.exec(ctx, "UPDATE supporting_companies SET is_active = ? WHERE stripe_subscription_id = ?", active, subscriptionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
