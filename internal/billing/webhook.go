package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var (
	ErrInvalidSignature = errors.New("stripe signature verification failed")

	// ErrUndecodable is returned with a verified event whose object could not be read.
	ErrUndecodable = errors.New("stripe event object could not be decoded")
)

// Event is the subset of a Stripe event the activation flow reads.
type Event struct {
	ID         string
	Type       string
	Email      string
	CustomerID string
	// Status is set for customer.subscription.* events.
	Status string
}

// ParseWebhook verifies the Stripe-Signature header and extracts the fields of
// interest. The email is whatever the payload carries directly; resolving it
// through the customer is left to the caller.
func ParseWebhook(payload []byte, signature, secret string) (*Event, error) {
	if secret == "" {
		return nil, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	raw := ev.Data.Raw

	switch {
	case out.Type == "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return out, fmt.Errorf("%w: checkout session: %v", ErrUndecodable, err)
		}
		if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
			out.Email = sess.CustomerDetails.Email
		} else {
			out.Email = sess.CustomerEmail
		}
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
	case strings.HasPrefix(out.Type, "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return out, fmt.Errorf("%w: invoice: %v", ErrUndecodable, err)
		}
		out.Email = inv.CustomerEmail
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return out, fmt.Errorf("%w: subscription: %v", ErrUndecodable, err)
		}
		out.Status = string(sub.Status)
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
	}
	out.Email = strings.TrimSpace(out.Email)
	return out, nil
}
