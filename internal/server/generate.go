package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/CaptionStudio/internal/llm"
	"github.com/digkill/CaptionStudio/internal/service"
)

type captionRequest struct {
	Product            string   `json:"product"`
	Platform           string   `json:"platform"`
	Style              string   `json:"style"`
	BanOpeningPrefixes []string `json:"ban_opening_prefixes"`
	BanRecentStyles    []string `json:"ban_recent_styles"`
}

type captionResponse struct {
	Captions      []string `json:"captions"`
	OpeningPrefix string   `json:"opening_prefix"`
	Product       string   `json:"product"`
	Style         string   `json:"style"`
	UsedStyle     string   `json:"used_style"`
	Platform      string   `json:"platform"`
	Source        string   `json:"source"`
}

func (s *Server) handleGenerateCaption(w http.ResponseWriter, r *http.Request) {
	var req captionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "Invalid JSON")
		return
	}

	res, err := s.svc.Captions.Generate(r.Context(), service.CaptionRequest{
		Product:            req.Product,
		Platform:           req.Platform,
		Style:              req.Style,
		BanOpeningPrefixes: req.BanOpeningPrefixes,
		BanRecentStyles:    req.BanRecentStyles,
		Email:              sessionEmail(r.Context()),
	})
	if err != nil {
		var upstream *llm.UpstreamError
		switch {
		case errors.Is(err, llm.ErrMissingAPIKey):
			s.writeError(w, http.StatusInternalServerError, "Missing LLM API key", "")
		case errors.As(err, &upstream):
			s.log.Warn("caption upstream error", "status", upstream.Status)
			s.writeError(w, http.StatusBadGateway, "Upstream model error", upstream.Body)
		case errors.Is(err, llm.ErrTimeout):
			s.writeError(w, http.StatusBadGateway, "Upstream model error", "timeout")
		default:
			s.internalError(w, "Generation failed", err)
		}
		return
	}

	w.Header().Set("X-Opening-Prefix-B64", base64.StdEncoding.EncodeToString([]byte(res.OpeningPrefix)))
	s.writeJSON(w, http.StatusOK, captionResponse{
		Captions:      []string{res.Caption},
		OpeningPrefix: res.OpeningPrefix,
		Product:       res.Product,
		Style:         string(res.Style),
		UsedStyle:     string(res.Style),
		Platform:      string(res.Platform),
		Source:        res.Source,
	})
}

type imageRequest struct {
	Product string `json:"product"`
	Caption string `json:"caption"`
	Style   string `json:"style"`
	Aspect  string `json:"aspect"`
	// Seed arrives as either a number or a string.
	Seed    any    `json:"seed"`
}

type imageErrorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
	Used   *int   `json:"used,omitempty"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, imageErrorBody{Error: "Invalid JSON", Code: "INVALID_JSON"})
		return
	}

	res, err := s.svc.Images.Generate(r.Context(), service.ImageRequest{
		Email:   sessionEmail(r.Context()),
		Product: req.Product,
		Caption: req.Caption,
		Style:   req.Style,
		Aspect:  req.Aspect,
		Seed:    parseSeed(req.Seed),
	})
	if err != nil {
		var ie *service.ImageError
		if !errors.As(err, &ie) {
			s.internalError(w, "Request failed", err)
			return
		}
		body := imageErrorBody{Error: ie.Code, Code: ie.Code, Detail: ie.Message}
		if ie.Status == http.StatusTooManyRequests {
			body.Error, body.Detail = ie.Message, ""
			body.Limit, body.Used = &ie.Limit, &ie.Used
		}
		s.writeJSON(w, ie.Status, body)
		return
	}
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	s.writeJSON(w, http.StatusOK, res)
}

// parseSeed returns 0, meaning "pick one", for anything that is not an integer.
func parseSeed(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
