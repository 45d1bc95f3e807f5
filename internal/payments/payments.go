// Package payments wraps the subscription payment provider.
package payments

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by Disabled for every call.
var ErrNotConfigured = errors.New("payments provider not configured")

// Webhook event types the service reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// CheckoutSession is the provider's view of a hosted checkout.
type CheckoutSession struct {
	ID             string
	URL            string
	Complete       bool
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

// Subscription is a recurring payment.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
}

// CheckoutRequest describes a subscription checkout to start.
type CheckoutRequest struct {
	UserID   string
	Email    string
	Metadata map[string]string
}

// Event is a verified webhook notification.
type Event struct {
	ID             string
	Type           string
	SessionID      string
	SubscriptionID string
	Metadata       map[string]string
}

// Provider is the payment capability the business flows need.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// Disabled is used when no provider key is configured.
type Disabled struct{}

func (Disabled) CreateCheckoutSession(context.Context, CheckoutRequest) (*CheckoutSession, error) {
	return nil, ErrNotConfigured
}

func (Disabled) RetrieveSession(context.Context, string) (*CheckoutSession, error) {
	return nil, ErrNotConfigured
}

func (Disabled) RetrieveSubscription(context.Context, string) (*Subscription, error) {
	return nil, ErrNotConfigured
}

func (Disabled) CancelSubscription(context.Context, string) error {
	return ErrNotConfigured
}

func (Disabled) ParseWebhook([]byte, string) (*Event, error) {
	return nil, ErrNotConfigured
}
