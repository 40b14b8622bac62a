package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/digkill/CaptionStudio/internal/identity"
)

type userActiveRequest struct {
	Email  string `json:"email"`
	Active *bool  `json:"active"`
}

// handleUserActive reads the flag when active is omitted and writes it otherwise.
func (s *Server) handleUserActive(w http.ResponseWriter, r *http.Request) {
	var req userActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "Invalid JSON")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		s.badRequest(w, "Missing email")
		return
	}

	ctx := r.Context()
	if req.Active == nil {
		u, err := s.svc.Users.Find(ctx, email)
		if err != nil {
			s.userError(w, "Lookup failed", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"email": email, "active": u.IsActive()})
		return
	}

	if _, err := s.svc.Activation.SetActive(ctx, email, *req.Active); err != nil {
		s.userError(w, "Update failed", err)
		return
	}
	s.log.Info("admin set active", "email", email, "active", *req.Active)
	s.writeJSON(w, http.StatusOK, map[string]any{"email": email, "updated": true, "active": *req.Active})
}

type userPhoneRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (s *Server) handleUserPhone(w http.ResponseWriter, r *http.Request) {
	var req userPhoneRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "Invalid JSON")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		s.badRequest(w, "Missing email")
		return
	}
	if err := s.svc.Users.SetPhone(r.Context(), email, req.Phone); err != nil {
		s.userError(w, "Update failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUsersList(w http.ResponseWriter, r *http.Request) {
	include := r.URL.Query().Get("include_stripe")
	rows, err := s.svc.Users.List(r.Context(), include == "1" || include == "true")
	if err != nil {
		s.internalError(w, "List users failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": rows})
}

func (s *Server) handleUsersCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Users.Count(r.Context())
	if err != nil {
		s.internalError(w, "List users failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Usage.Usage(r.Context())
	if err != nil {
		s.internalError(w, "Read usage failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCostStats(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Usage.Costs(r.Context())
	if err != nil {
		s.internalError(w, "Read costs failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) userError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, "User not found", "")
	case errors.Is(err, identity.ErrNotConfigured):
		s.writeError(w, http.StatusInternalServerError, "Server not configured", "")
	default:
		s.internalError(w, msg, err)
	}
}
