// Package web serves the zero-dash pages.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gematik/zero-dash/pkg/analytics"
	"github.com/gematik/zero-dash/pkg/guard"
	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/metrics"
	"github.com/gematik/zero-dash/pkg/nonce"
	"github.com/gematik/zero-dash/pkg/session"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Identity is the identity provider adapter as used by the pages.
type Identity interface {
	guard.UserProvider
	SignIn(ctx context.Context, username, password string) error
	SignUp(ctx context.Context, username, password, email string) (*idp.SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	FetchUserAttributes(ctx context.Context) (map[string]string, error)
}

type AnalyticsSource interface {
	Fetch(ctx context.Context) (*analytics.Report, error)
}

type Options struct {
	Identity       Identity
	Analytics      AnalyticsSource
	Sessions       *session.Manager
	Forms          *nonce.Forms
	Metrics        *metrics.Metrics
	LoadingTimeout time.Duration
}

type Server struct {
	echo      *echo.Echo
	identity  Identity
	analytics AnalyticsSource
	sessions  *session.Manager
	forms     *nonce.Forms
	metrics   *metrics.Metrics
	protector *guard.Protector
}

type formValidator struct {
	validate *validator.Validate
}

func (v *formValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func New(opts Options) (*Server, error) {
	if opts.Identity == nil || opts.Analytics == nil || opts.Sessions == nil || opts.Forms == nil {
		return nil, errors.New("web: identity, analytics, sessions and forms are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.LoadingTimeout == 0 {
		opts.LoadingTimeout = 2 * time.Second
	}

	s := &Server{
		echo:      echo.New(),
		identity:  opts.Identity,
		analytics: opts.Analytics,
		sessions:  opts.Sessions,
		forms:     opts.Forms,
		metrics:   opts.Metrics,
	}
	s.protector = guard.NewProtector(opts.Identity, opts.LoadingTimeout, opts.Metrics)
	s.protector.Loading = s.loading

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newRenderer()
	e.Validator = &formValidator{validate: validator.New()}
	e.HTTPErrorHandler = s.errorHandler

	e.Pre(middleware.RemoveTrailingSlash(), lowercasePath)
	e.Use(
		middleware.Recover(),
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				slog.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
				return nil
			},
		}),
		opts.Sessions.Middleware(),
		nonce.RequireForm(opts.Forms),
		errorLogMiddleware,
	)

	public := map[string]echo.HandlerFunc{
		"/":       s.landing,
		"/login":  s.login,
		"/signup": s.signUp,
	}
	guarded := map[string]guard.View{
		"/home":      s.home,
		"/profile":   s.profile,
		"/analytics": s.userAnalytics,
	}
	methods := []string{http.MethodGet, http.MethodPost}
	for _, r := range Routes() {
		switch r.Access {
		case Public:
			e.Match(methods, r.Path, public[r.Path])
		case Guarded:
			e.Match(methods, r.Path, s.protector.Protect(s.withSignOut(guarded[r.Path])))
		}
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))

	return s, nil
}

func errorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("Error", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// stop server when context is done
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("listen on %s: %w", address, err)
}
