package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/digkill/CaptionStudio/internal/identity"
)

const (
	gateStrict  = "strict"
	gateLenient = "lenient"
	gateOff     = "off"
)

// session attaches verified claims to the request context. With required set,
// a missing or invalid token is answered with 401.
func (s *Server) session(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := s.claims(r)
			if err != nil {
				if required {
					s.writeError(w, http.StatusUnauthorized, "Unauthorized", "")
					return
				}
				if !errors.Is(err, identity.ErrNoSession) {
					s.log.Debug("ignoring invalid session", "err", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithClaims(r.Context(), claims)))
		})
	}
}

func (s *Server) claims(r *http.Request) (*identity.Claims, error) {
	if s.svc.Sessions == nil {
		return nil, identity.ErrNoSession
	}
	token, err := identity.TokenFromRequest(r, s.cfg.SessionCookieName)
	if err != nil {
		return nil, err
	}
	return s.svc.Sessions.Verify(token)
}

func sessionEmail(ctx context.Context) string {
	if claims, ok := identity.ClaimsFromContext(ctx); ok {
		return claims.Email
	}
	return ""
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !secretMatches(r.Header.Get("x-admin-token"), s.cfg.AdminAPIToken) {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secretMatches compares in constant time. An unset secret never matches.
func secretMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// allowed applies the active gate to a signed-in user.
func (s *Server) allowed(ctx context.Context, claims *identity.Claims) bool {
	switch s.cfg.ActiveGate {
	case gateOff:
		return true
	case gateLenient:
		active, present := s.currentActive(ctx, claims)
		return active || !present
	default:
		active, present := s.currentActive(ctx, claims)
		return present && active
	}
}

// currentActive prefers a fresh directory read so that an admin deactivation
// takes effect before the session token expires.
func (s *Server) currentActive(ctx context.Context, claims *identity.Claims) (active, present bool) {
	if s.svc.Directory != nil && claims.Email != "" {
		u, err := s.svc.Directory.FindUserByEmail(ctx, claims.Email)
		switch {
		case err == nil:
			if u.Active == nil {
				return false, false
			}
			return *u.Active, true
		case errors.Is(err, identity.ErrUserNotFound):
			return false, false
		case !errors.Is(err, identity.ErrNotConfigured):
			s.log.Warn("active gate lookup failed, using token claims", "email", claims.Email, "err", err)
		}
	}
	return claims.Active()
}

func (s *Server) handleCaptionPage(w http.ResponseWriter, r *http.Request) {
	claims, ok := identity.ClaimsFromContext(r.Context())
	if !ok || !s.allowed(r.Context(), claims) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.servePage(w, r, "caption.html")
}
