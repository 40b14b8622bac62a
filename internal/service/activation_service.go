package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/CaptionStudio/internal/billing"
	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/models"
	"github.com/digkill/CaptionStudio/internal/telegram"
)

const (
	TrialNone   = "none"
	TrialWindow = "window"
	TrialOnce   = "once"
)

// Reasons reported when a webhook is accepted but no write happens.
const (
	ReasonUserNotFound   = "user_not_found"
	ReasonLookupFailed   = "list_failed"
	ReasonUpdateFailed   = "update_failed"
	ReasonTrialWindow    = "trial_window"
	ReasonTrialUsed      = "trial_already_used"
	ReasonNotConfigured  = "identity_not_configured"
	ReasonAlreadyApplied = "unchanged"
)

type ActivationConfig struct {
	TrialPolicy string
	TrialWindow time.Duration
}

// ActivationService flips app_metadata.active in response to billing events and
// admin actions. Every transition only ever sets the flag, so replays are safe.
type ActivationService struct {
	cfg       ActivationConfig
	log       *slog.Logger
	directory Directory
	billing   billing.Gateway
	notifier  telegram.Notifier
	now       func() time.Time
}

// WebhookOutcome maps one-to-one onto the webhook response body.
type WebhookOutcome struct {
	Ignored bool
	NoEmail bool
	Updated bool
	Reason  string
}

func NewActivationService(cfg ActivationConfig, log *slog.Logger, directory Directory, gw billing.Gateway, notifier telegram.Notifier) *ActivationService {
	if cfg.TrialPolicy == "" {
		cfg.TrialPolicy = TrialNone
	}
	if cfg.TrialWindow <= 0 {
		cfg.TrialWindow = 14 * 24 * time.Hour
	}
	if notifier == nil {
		notifier = telegram.Nop{}
	}
	return &ActivationService{
		cfg:       cfg,
		log:       log,
		directory: directory,
		billing:   gw,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Decide returns the target active state for an event, or ok=false when the
// event does not affect activation.
func Decide(ev *billing.Event) (active bool, ok bool) {
	switch ev.Type {
	case "checkout.session.completed", "invoice.payment_succeeded":
		return true, true
	case "invoice.payment_failed", "customer.subscription.deleted":
		return false, true
	case "customer.subscription.created", "customer.subscription.updated":
		switch models.SubscriptionStatus(ev.Status) {
		case models.SubscriptionTrialing, models.SubscriptionActive:
			return true, true
		case models.SubscriptionCanceled, models.SubscriptionUnpaid, models.SubscriptionIncompleteExpired:
			return false, true
		}
	}
	return false, false
}

// HandleEvent applies a verified event. overrideEmail, when non-empty, has
// already been authorized by the caller.
func (s *ActivationService) HandleEvent(ctx context.Context, ev *billing.Event, overrideEmail string) WebhookOutcome {
	active, ok := Decide(ev)
	if !ok {
		s.log.Debug("stripe event ignored", "type", ev.Type, "id", ev.ID)
		return WebhookOutcome{Ignored: true}
	}

	email := overrideEmail
	if email == "" {
		email = s.resolveEmail(ctx, ev)
	}
	if email == "" {
		s.log.Warn("stripe event without email", "type", ev.Type, "id", ev.ID)
		return WebhookOutcome{NoEmail: true}
	}

	reason := s.apply(ctx, email, active, ev)
	if reason != "" && reason != ReasonAlreadyApplied {
		s.log.Info("stripe event not applied", "type", ev.Type, "email", email, "reason", reason)
		return WebhookOutcome{Reason: reason}
	}
	s.log.Info("stripe event applied", "type", ev.Type, "email", email, "active", active)
	return WebhookOutcome{Updated: true}
}

func (s *ActivationService) resolveEmail(ctx context.Context, ev *billing.Event) string {
	if ev.Email != "" {
		return ev.Email
	}
	if ev.Type == "checkout.session.completed" || ev.CustomerID == "" || s.billing == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	email, err := s.billing.CustomerEmail(ctx, ev.CustomerID)
	if err != nil {
		s.log.Warn("resolve customer email", "customer", ev.CustomerID, "err", err)
		return ""
	}
	return strings.TrimSpace(email)
}

// apply writes the new state, honouring the trial policy. It returns "" on a
// write, ReasonAlreadyApplied when nothing changed, or a refusal reason.
func (s *ActivationService) apply(ctx context.Context, email string, active bool, ev *billing.Event) string {
	if s.directory == nil {
		return ReasonNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	user, err := s.directory.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ReasonUserNotFound
		}
		s.log.Error("find user for activation", "email", email, "err", err)
		return ReasonLookupFailed
	}

	patch := map[string]any{"active": active}
	now := s.now()
	trialing := ev != nil && ev.Status == string(models.SubscriptionTrialing)

	switch s.cfg.TrialPolicy {
	case TrialWindow:
		if active && ev != nil && ev.Type == "checkout.session.completed" && user.TrialStartedAt == 0 {
			patch["trial_started_at"] = now.Unix()
		}
		if !active && user.TrialStartedAt > 0 && now.Before(time.Unix(user.TrialStartedAt, 0).Add(s.cfg.TrialWindow)) {
			return ReasonTrialWindow
		}
	case TrialOnce:
		if active && trialing {
			if user.TrialUsed && !user.IsActive() {
				return ReasonTrialUsed
			}
			patch["trial_used"] = true
		}
	}

	if user.Active != nil && *user.Active == active && len(patch) == 1 {
		return ReasonAlreadyApplied
	}
	if _, err := s.directory.UpdateMetadata(ctx, user, patch, nil); err != nil {
		s.log.Error("update activation", "email", email, "err", err)
		return ReasonUpdateFailed
	}
	if !(user.Active != nil && *user.Active == active) {
		s.notify(ctx, email, active, ev)
	}
	return ""
}

// SetActive is the direct path used by admin tools and the test hook.
func (s *ActivationService) SetActive(ctx context.Context, email string, active bool) (models.User, error) {
	if s.directory == nil {
		return models.User{}, identity.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	user, err := s.directory.FindUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	was := user.IsActive()
	updated, err := s.directory.UpdateMetadata(ctx, user, map[string]any{"active": active}, nil)
	if err != nil {
		return models.User{}, fmt.Errorf("set active: %w", err)
	}
	if was != active {
		s.notify(ctx, email, active, nil)
	}
	return updated, nil
}

func (s *ActivationService) notify(ctx context.Context, email string, active bool, ev *billing.Event) {
	state := "deactivated"
	if active {
		state = "activated"
	}
	source := "admin"
	if ev != nil {
		source = ev.Type
	}
	s.notifier.Notify(ctx, fmt.Sprintf("%s %s (%s)", email, state, source))
}
