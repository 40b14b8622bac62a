package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/service"
)

// handleShortlink accepts a phone number or a wa_alias.
func (s *Server) handleShortlink(w http.ResponseWriter, r *http.Request) {
	msisdn, err := s.svc.Users.ResolveWhatsApp(r.Context(), chi.URLParam(r, "code"))
	switch {
	case err == nil:
		http.Redirect(w, r, service.WhatsAppURL(msisdn), http.StatusFound)
	case errors.Is(err, service.ErrShortlinkDisabled), errors.Is(err, identity.ErrNotConfigured):
		s.writeError(w, http.StatusInternalServerError, "Server not configured", "")
	case errors.Is(err, identity.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, "Not found", "")
	case errors.Is(err, service.ErrInvalidPhoneNumber):
		s.badRequest(w, "Invalid code")
	default:
		s.internalError(w, "Lookup failed", err)
	}
}

// handleWhatsAppNumber only takes a literal number.
func (s *Server) handleWhatsAppNumber(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	msisdn := service.NormalizeMSISDN(code)
	if !service.IsPhoneLike(code) || msisdn == "" {
		s.badRequest(w, "Invalid number")
		return
	}
	http.Redirect(w, r, service.WhatsAppURL(msisdn), http.StatusFound)
}
