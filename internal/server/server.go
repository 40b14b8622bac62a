package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/digkill/CaptionStudio/internal/config"
	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/service"
)

// SessionVerifier turns a bearer token into verified claims.
type SessionVerifier interface {
	Verify(token string) (*identity.Claims, error)
}

// Services groups the handlers' collaborators. Sessions may be nil, in which
// case every request is anonymous.
type Services struct {
	Sessions   SessionVerifier
	Directory  service.Directory
	Captions   *service.CaptionService
	Images     *service.ImageService
	Users      *service.UserService
	Activation *service.ActivationService
	Usage      *service.UsageService
}

type Server struct {
	cfg          config.Config
	log          *slog.Logger
	svc          Services
	generatedDir string
	router       *chi.Mux
}

// NewServer builds the router. generatedDir is the local image directory served
// under /generated/; leave it empty when images go to S3.
func NewServer(cfg config.Config, log *slog.Logger, svc Services, generatedDir string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:          cfg,
		log:          log,
		svc:          svc,
		generatedDir: generatedDir,
		router:       r,
	}
	r.Use(s.logRequests)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization", "x-admin-token", "x-test-secret"},
			ExposedHeaders:   []string{"X-Opening-Prefix-B64"},
			AllowCredentials: true,
			MaxAge:           int((12 * time.Hour).Seconds()),
		}).Handler)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.With(s.session(false)).Post("/generate", s.handleGenerateCaption)
		r.With(s.session(false)).Post("/generate-image", s.handleGenerateImage)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/user-active", s.handleUserActive)
			r.Post("/user-phone", s.handleUserPhone)
			r.Get("/users-list", s.handleUsersList)
			r.Get("/users-count", s.handleUsersCount)
			r.Get("/usage-stats", s.handleUsageStats)
			r.Get("/cost-stats", s.handleCostStats)
		})

		r.Route("/stripe", func(r chi.Router) {
			r.Post("/webhook", s.handleStripeWebhook)
			r.Post("/webhook-test", s.handleStripeWebhookTest)
			r.With(s.session(true)).Post("/cancel", s.handleCancel)
			r.With(s.session(true)).Post("/portal", s.handlePortal)
		})

		r.Get("/w/{code}", s.handleShortlink)
	})
	r.Get("/w/{code}", s.handleWhatsAppNumber)

	r.With(s.session(false)).Get("/caption", s.handleCaptionPage)
	r.Get("/caption.html", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/caption", http.StatusFound)
	})
	r.Get("/login", s.page("login.html"))

	if generatedDir != "" {
		r.Handle("/generated/*", http.StripPrefix("/generated/", http.FileServer(http.Dir(generatedDir))))
	}
	if cfg.WebDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.WebDir)))
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	// image generation may poll a provider for close to a minute
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// page serves a file from the web directory, or 404 when none is configured.
func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.servePage(w, r, name)
	}
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, name string) {
	if s.cfg.WebDir == "" {
		http.NotFound(w, r)
		return
	}
	full := filepath.Join(s.cfg.WebDir, name)
	if _, err := os.Stat(full); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

// origin is the externally visible base URL used in redirects handed to Stripe.
func (s *Server) origin(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, detail string) {
	s.writeJSON(w, status, errorBody{Error: msg, Detail: detail})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeError(w, http.StatusBadRequest, msg, "")
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.Error("handler error", "msg", msg, "err", err)
	s.writeError(w, http.StatusInternalServerError, msg, err.Error())
}

// decodeJSON reads a JSON body. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
