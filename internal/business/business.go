// Package business turns completed subscription checkouts into business listings
// and keeps them in step with the payment provider.
package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/cityfam/cityfam/internal/payments"
	"github.com/cityfam/cityfam/internal/validate"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionIncomplete is returned when the checkout was not completed and paid.
	ErrSessionIncomplete = errors.New("checkout session is not complete")
	// ErrSessionMismatch is returned when the session belongs to another user.
	ErrSessionMismatch = errors.New("checkout session belongs to another user")
	// ErrNoSubscription is returned when there is no subscription to act on.
	ErrNoSubscription = errors.New("no subscription")
)

// SupporterTier is the tier assigned to supporting companies created at checkout.
const SupporterTier = "supporter"

// metadataUserID is the session metadata key naming the paying user.
const metadataUserID = "userId"

// Form is the business listing submitted before checkout. It travels to the
// provider as session metadata, whose values are limited to 500 characters.
type Form struct {
	Name        string `json:"name" validate:"required,max=120"`
	BranchID    string `json:"branchId" validate:"required"`
	Description string `json:"description" validate:"max=500"`
	Address     string `json:"address" validate:"max=200"`
	Phone       string `json:"phone" validate:"max=40"`
	Website     string `json:"website" validate:"omitempty,url,max=500"`
	Category    string `json:"category" validate:"max=60"`
	LogoURL     string `json:"logoUrl" validate:"omitempty,url,max=500"`
}

func (f Form) metadata() map[string]string {
	return map[string]string{
		"name":        f.Name,
		"branchId":    f.BranchID,
		"description": f.Description,
		"address":     f.Address,
		"phone":       f.Phone,
		"website":     f.Website,
		"category":    f.Category,
		"logoUrl":     f.LogoURL,
	}
}

func formFromMetadata(md map[string]string) Form {
	return Form{
		Name:        md["name"],
		BranchID:    md["branchId"],
		Description: md["description"],
		Address:     md["address"],
		Phone:       md["phone"],
		Website:     md["website"],
		Category:    md["category"],
		LogoURL:     md["logoUrl"],
	}
}

// Result is the outcome of Materialize.
type Result struct {
	Business          *model.Business          `json:"business"`
	SupportingCompany *model.SupportingCompany `json:"supportingCompany"`
	// Created is false when both records already existed.
	Created bool `json:"created"`
}

// Service implements the business subscription flows.
type Service struct {
	store    database.Store
	provider payments.Provider
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService creates a business service.
func NewService(store database.Store, provider payments.Provider, log logrus.FieldLogger) *Service {
	return &Service{store: store, provider: provider, log: log, now: time.Now}
}

// StartCheckout validates the form and opens a checkout session carrying it.
// It returns the hosted checkout URL.
func (s *Service) StartCheckout(ctx context.Context, user *model.User, form Form) (string, error) {
	if err := validate.Struct(form); err != nil {
		return "", err
	}
	cs, err := s.provider.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		UserID:   user.ID,
		Email:    user.Email,
		Metadata: form.metadata(),
	})
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "session_id": cs.ID}).Info("checkout started")
	return cs.URL, nil
}

// Materialize creates the business and supporting company for a completed
// checkout. Calling it again for the same session is a no-op that returns the
// existing records.
func (s *Service) Materialize(ctx context.Context, sessionID, userID string) (*Result, error) {
	cs, err := s.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cs.Complete {
		return nil, ErrSessionIncomplete
	}
	if cs.SubscriptionID == "" {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoSubscription)
	}
	if owner := cs.Metadata[metadataUserID]; owner != "" && owner != userID {
		return nil, ErrSessionMismatch
	}

	sub, err := s.provider.RetrieveSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return nil, err
	}
	customerID := sub.CustomerID
	if customerID == "" {
		customerID = cs.CustomerID
	}

	form := formFromMetadata(cs.Metadata)
	res, err := s.materialize(ctx, userID, sub.ID, customerID, form)
	if errors.Is(err, database.ErrConflict) {
		// A concurrent call for the same subscription committed first; the
		// second attempt finds its records.
		res, err = s.materialize(ctx, userID, sub.ID, customerID, form)
	}
	if err != nil {
		return nil, fmt.Errorf("materialize session %s: %w", sessionID, err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"subscription_id": sub.ID,
		"business_id":     res.Business.ID,
		"created":         res.Created,
	}).Info("business materialized")
	return res, nil
}

// materialize looks up or creates the records for one subscription in a
// single transaction.
func (s *Service) materialize(ctx context.Context, userID, subscriptionID, customerID string, form Form) (*Result, error) {
	res := &Result{}
	err := s.store.RunInTx(ctx, func(q database.Queries) error {
		b, err := q.FindBusinessBySubscription(ctx, userID, subscriptionID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			b = &model.Business{
				OwnerID:              userID,
				BranchID:             form.BranchID,
				Name:                 form.Name,
				Description:          form.Description,
				Address:              form.Address,
				Phone:                form.Phone,
				Website:              form.Website,
				Category:             form.Category,
				LogoURL:              form.LogoURL,
				IsActive:             true,
				IsPromoted:           true,
				StripeSubscriptionID: subscriptionID,
				StripeCustomerID:     customerID,
				CreatedAt:            s.now(),
			}
			if err := q.CreateBusiness(ctx, b); err != nil {
				return err
			}
			res.Created = true
		case err != nil:
			return err
		}
		res.Business = b

		c, err := q.FindSupportingCompanyBySubscription(ctx, userID, subscriptionID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			c = &model.SupportingCompany{
				BusinessID:           b.ID,
				OwnerID:              userID,
				Name:                 b.Name,
				LogoURL:              b.LogoURL,
				Website:              b.Website,
				Tier:                 SupporterTier,
				IsActive:             true,
				StripeSubscriptionID: subscriptionID,
				CreatedAt:            s.now(),
			}
			if err := q.CreateSupportingCompany(ctx, c); err != nil {
				return err
			}
			res.Created = true
		case err != nil:
			return err
		}
		res.SupportingCompany = c

		return q.UpdateUserSubscription(ctx, userID, model.Subscription{
			Status:               model.SubscriptionActive,
			StripeSubscriptionID: subscriptionID,
			StripeCustomerID:     customerID,
			BusinessID:           b.ID,
			UpdatedAt:            s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelSubscription cancels the user's subscription and withdraws its perks.
func (s *Service) CancelSubscription(ctx context.Context, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	subID := u.Subscription.StripeSubscriptionID
	if subID == "" || u.Subscription.Status != model.SubscriptionActive {
		return ErrNoSubscription
	}
	if err := s.provider.CancelSubscription(ctx, subID); err != nil {
		return err
	}
	return s.deactivate(ctx, subID, u)
}

// HandleWebhookEvent applies a verified provider notification.
// Unknown event types are ignored.
func (s *Service) HandleWebhookEvent(ctx context.Context, ev *payments.Event) error {
	log := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type})
	switch ev.Type {
	case payments.EventCheckoutCompleted:
		userID := ev.Metadata[metadataUserID]
		if userID == "" {
			log.Warn("checkout completed without user metadata, ignoring")
			return nil
		}
		_, err := s.Materialize(ctx, ev.SessionID, userID)
		return err
	case payments.EventSubscriptionDeleted:
		if ev.SubscriptionID == "" {
			return ErrNoSubscription
		}
		u, err := s.store.FindUserBySubscription(ctx, ev.SubscriptionID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		return s.deactivate(ctx, ev.SubscriptionID, u)
	default:
		log.Debug("ignoring webhook event")
		return nil
	}
}

// deactivate marks the subscription canceled everywhere it is denormalized.
// u may be nil when no user holds the subscription any more.
func (s *Service) deactivate(ctx context.Context, subscriptionID string, u *model.User) error {
	err := s.store.RunInTx(ctx, func(q database.Queries) error {
		if u != nil {
			sub := u.Subscription
			sub.Status = model.SubscriptionCanceled
			sub.UpdatedAt = s.now()
			if err := q.UpdateUserSubscription(ctx, u.ID, sub); err != nil {
				return err
			}
		}
		if _, err := q.SetBusinessPromoted(ctx, subscriptionID, false); err != nil {
			return err
		}
		_, err := q.SetSupportingCompanyActive(ctx, subscriptionID, false)
		return err
	})
	if err != nil {
		return fmt.Errorf("deactivate subscription %s: %w", subscriptionID, err)
	}
	s.log.WithField("subscription_id", subscriptionID).Info("subscription deactivated")
	return nil
}
