// Package billing wraps the Stripe API calls and webhook verification the
// service needs.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/digkill/CaptionStudio/internal/models"
)

var (
	ErrNotConfigured    = errors.New("stripe not configured")
	ErrCustomerNotFound = errors.New("stripe customer not found")
)

type Customer struct {
	ID    string
	Email string
}

// Gateway is the Stripe surface used by the services.
type Gateway interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	LatestSubscription(ctx context.Context, customerID string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string, limit int) ([]models.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type StripeGateway struct {
	api *client.API
}

// NewStripeGateway returns nil when no secret key is configured; callers treat a
// nil gateway as "billing disabled".
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	if secretKey == "" {
		return nil
	}
	return &StripeGateway{api: client.New(secretKey, backends)}
}

func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrCustomerNotFound
	}
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := g.api.Customers.List(params)
	if it.Next() {
		c := it.Customer()
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return nil, ErrCustomerNotFound
}

func (g *StripeGateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", ErrCustomerNotFound
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("get customer: %w", err)
	}
	if c.Deleted {
		return "", ErrCustomerNotFound
	}
	return c.Email, nil
}

// LatestSubscription returns the newest subscription in any status, or nil.
func (g *StripeGateway) LatestSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	subs, err := g.ListSubscriptions(ctx, customerID, 1)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]models.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(limit))
	params.Single = true

	var out []models.Subscription
	it := g.api.Subscriptions.List(params)
	for it.Next() && len(out) < limit {
		out = append(out, toSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	s := toSubscription(sub)
	return &s, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func toSubscription(s *stripe.Subscription) models.Subscription {
	out := models.Subscription{
		ID:                 s.ID,
		Status:             models.SubscriptionStatus(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelAt:           s.CancelAt,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out
}
