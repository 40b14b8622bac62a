package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/digkill/CaptionStudio/internal/billing"
	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/service"
)

const maxWebhookBody = 1 << 20

const (
	msgCustomerNotFound = "未找到对应的 Stripe 账户，请确认登录邮箱"
	msgNoSubscription   = "当前账号暂无有效订阅，请确认登录邮箱是否正确，或稍后再试 🙏"
	msgCancelFailed     = "系统繁忙，请稍后再试；如多次失败，请联系我们的支持团队 💬"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Ignored  bool   `json:"ignored,omitempty"`
	NoEmail  bool   `json:"no_email,omitempty"`
	Updated  *bool  `json:"updated,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleStripeWebhook verifies the signature over the raw body before anything
// else. Past verification every event is acknowledged with 200.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.badRequest(w, "read body error")
		return
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		s.badRequest(w, "Missing signature")
		return
	}

	ev, err := billing.ParseWebhook(body, signature, s.cfg.StripeWebhookSecret)
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		s.writeError(w, http.StatusInternalServerError, "Stripe webhook not configured", "")
		return
	case errors.Is(err, billing.ErrUndecodable):
		s.log.Warn("stripe webhook object undecodable", "event", ev.ID, "type", ev.Type, "err", err)
		s.writeJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: true})
		return
	case err != nil:
		s.log.Warn("stripe webhook rejected", "err", err)
		s.writeError(w, http.StatusBadRequest, "Signature verification failed", err.Error())
		return
	}

	out := s.svc.Activation.HandleEvent(r.Context(), ev, s.overrideEmail(r))
	resp := webhookResponse{Received: true}
	switch {
	case out.Ignored:
		resp.Ignored = true
	case out.NoEmail:
		resp.NoEmail = true
	default:
		updated := out.Updated
		resp.Updated = &updated
		resp.Reason = out.Reason
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// overrideEmail returns the override_email query parameter when overrides are
// enabled and the request carries the override secret.
func (s *Server) overrideEmail(r *http.Request) string {
	if !s.cfg.EnableWebhookOverride {
		return ""
	}
	q := r.URL.Query()
	email := strings.TrimSpace(q.Get("override_email"))
	if email == "" || !secretMatches(q.Get("secret"), s.cfg.WebhookOverrideSecret) {
		return ""
	}
	s.log.Warn("stripe webhook email override", "email", email)
	return email
}

// webhookTestRequest leaves Active false when omitted, so a bare email deactivates.
type webhookTestRequest struct {
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

// handleStripeWebhookTest flips the flag without Stripe, for staging checks.
func (s *Server) handleStripeWebhookTest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookTestSecret == "" {
		s.writeError(w, http.StatusForbidden, "Not enabled", "")
		return
	}
	if !secretMatches(r.Header.Get("x-test-secret"), s.cfg.WebhookTestSecret) {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req webhookTestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "Invalid JSON")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		s.badRequest(w, "email required")
		return
	}
	active := req.Active

	if _, err := s.svc.Activation.SetActive(r.Context(), email, active); err != nil {
		reason := service.ReasonUpdateFailed
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			reason = service.ReasonUserNotFound
		case errors.Is(err, identity.ErrNotConfigured):
			reason = service.ReasonNotConfigured
		}
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"updated": false, "reason": reason})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"updated": true, "email": email, "active": active})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	email := sessionEmail(r.Context())
	if email == "" {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	res, err := s.svc.Users.Cancel(r.Context(), email)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{"allowed": true, "message": res.Message})
	case errors.Is(err, service.ErrCancelTooEarly):
		s.writeJSON(w, http.StatusForbidden, map[string]any{"allowed": false, "message": res.Message})
	case errors.Is(err, billing.ErrCustomerNotFound):
		s.writeError(w, http.StatusNotFound, msgCustomerNotFound, "")
	case errors.Is(err, service.ErrNoSubscription):
		s.writeError(w, http.StatusNotFound, msgNoSubscription, "")
	default:
		s.log.Error("cancel subscription", "email", email, "err", err)
		s.writeError(w, http.StatusInternalServerError, msgCancelFailed, "")
	}
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	email := sessionEmail(r.Context())
	if email == "" {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	url, err := s.svc.Users.PortalURL(r.Context(), email, s.origin(r))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case errors.Is(err, billing.ErrCustomerNotFound):
		s.writeError(w, http.StatusNotFound, "Stripe customer not found", "")
	default:
		s.internalError(w, "Portal session failed", err)
	}
}
