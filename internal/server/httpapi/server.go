// Package httpapi exposes SessionService over HTTP+JSON.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/logging"
	"github.com/dmitrijs2005/rentkeeper/internal/server/auth"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/dmitrijs2005/rentkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

// Sessions is the part of services.SessionService the handlers use.
type Sessions interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken, previousAccessToken string) (*services.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, claims *auth.Claims) (*models.Account, error)
}

// TokenValidator checks bearer credentials.
type TokenValidator interface {
	Validate(token string, opts auth.ValidateOptions) (*auth.Claims, bool)
}

type Server struct {
	address   string
	sessions  Sessions
	validator TokenValidator
	logger    logging.Logger
}

func NewServer(address string, l logging.Logger, sessions Sessions, v TokenValidator) *Server {
	return &Server{
		address:   address,
		sessions:  sessions,
		validator: v,
		logger:    l.With("module", "http_server"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/refresh-token", s.refreshToken)
		r.Post("/logout", s.logout)
		r.With(s.requireAccessToken).Get("/me", s.me)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
