package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gematik/zero-dash/pkg/metrics"
	"github.com/gematik/zero-dash/pkg/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gematik/zero-dash/pkg/idp"

// Adapter is the only component talking to the identity provider. The
// provider session it operates on is the browser session found in the
// context.
type Adapter struct {
	backend Backend
	store   TokenStore
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Adapter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

func NewAdapter(backend Backend, store TokenStore, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		store:   store,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	return a
}

// observe wraps a provider operation in a span and records its outcome.
func (a *Adapter) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := a.tracer.Start(ctx, "idp."+operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	a.metrics.IDPDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotAuthenticated):
		outcome = "not_authenticated"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("idp.outcome", outcome))
	a.metrics.IDPCalls.WithLabelValues(operation, outcome).Inc()
	return err
}

func asAuthError(err error, fallback string) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Message == "" {
			authErr.Message = fallback
		}
		return authErr
	}
	return &AuthError{Code: "network_error", Message: fallback, Err: err}
}

func (a *Adapter) SignIn(ctx context.Context, username, password string) error {
	return a.observe(ctx, "sign_in", func(ctx context.Context) error {
		sid, ok := session.IDFromContext(ctx)
		if !ok {
			return &AuthError{Code: "no_session", Message: "Your browser session is missing, please reload the page"}
		}
		tokens, err := a.backend.Authenticate(ctx, username, password)
		if err != nil {
			slog.Info("Sign in failed", "username", username, "error", err)
			return asAuthError(err, "An error occurred during sign in")
		}
		if err := a.store.Save(ctx, sid, tokens); err != nil {
			return &AuthError{Code: "internal_error", Message: "An error occurred during sign in", Err: err}
		}
		slog.Info("Signed in", "username", tokens.Username)
		return nil
	})
}

func (a *Adapter) SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error) {
	var result *SignUpResult
	err := a.observe(ctx, "sign_up", func(ctx context.Context) error {
		var err error
		result, err = a.backend.SignUp(ctx, username, password, email)
		if err != nil {
			slog.Info("Sign up failed", "username", username, "error", err)
			return asAuthError(err, "An error occurred during sign up")
		}
		return nil
	})
	return result, err
}

func (a *Adapter) ConfirmSignUp(ctx context.Context, username, code string) error {
	return a.observe(ctx, "confirm_sign_up", func(ctx context.Context) error {
		if err := a.backend.ConfirmSignUp(ctx, username, code); err != nil {
			slog.Info("Sign up confirmation failed", "username", username, "error", err)
			return asAuthError(err, "An error occurred during confirmation")
		}
		return nil
	})
}

// SignOut ends the provider session of the current browser session. It never
// fails from the caller's perspective: provider errors are logged and the
// local tokens are dropped regardless.
func (a *Adapter) SignOut(ctx context.Context) {
	_ = a.observe(ctx, "sign_out", func(ctx context.Context) error {
		sid, ok := session.IDFromContext(ctx)
		if !ok {
			return nil
		}
		tokens, err := a.store.Load(ctx, sid)
		if errors.Is(err, ErrTokensNotFound) {
			return nil
		}
		if err != nil {
			slog.Error("Error signing out", "error", err)
		} else if err := a.backend.Revoke(ctx, tokens); err != nil {
			slog.Error("Error signing out", "username", tokens.Username, "error", err)
		}
		if err := a.store.Delete(ctx, sid); err != nil {
			slog.Error("Error removing tokens", "error", err)
		}
		return nil
	})
}

// currentTokens loads the tokens of the browser session and refreshes them
// once if they are expired. A missing or unrefreshable session yields
// ErrNotAuthenticated.
func (a *Adapter) currentTokens(ctx context.Context) (*Tokens, error) {
	sid, ok := session.IDFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	tokens, err := a.store.Load(ctx, sid)
	if errors.Is(err, ErrTokensNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if !tokens.Expired(a.now()) {
		return tokens, nil
	}

	refreshed, err := a.backend.Refresh(ctx, tokens)
	if err != nil {
		// a rejected refresh token ends the session, a transport error
		// only fails this check
		var authErr *AuthError
		if errors.As(err, &authErr) {
			slog.Info("Token refresh rejected, dropping session", "username", tokens.Username, "error", err)
			if err := a.store.Delete(ctx, sid); err != nil {
				slog.Error("Error removing tokens", "error", err)
			}
		} else {
			slog.Warn("Token refresh failed", "username", tokens.Username, "error", err)
		}
		return nil, fmt.Errorf("%w: refresh failed", ErrNotAuthenticated)
	}
	if err := a.store.Save(ctx, sid, refreshed); err != nil {
		return nil, fmt.Errorf("save refreshed tokens: %w", err)
	}
	return refreshed, nil
}

func (a *Adapter) GetCurrentUser(ctx context.Context) (*UserIdentity, error) {
	var user *UserIdentity
	err := a.observe(ctx, "get_current_user", func(ctx context.Context) error {
		tokens, err := a.currentTokens(ctx)
		if err != nil {
			return err
		}
		user = &UserIdentity{
			Username: tokens.Username,
			UserID:   tokens.UserID,
		}
		return nil
	})
	return user, err
}

func (a *Adapter) FetchUserAttributes(ctx context.Context) (map[string]string, error) {
	var attrs map[string]string
	err := a.observe(ctx, "fetch_user_attributes", func(ctx context.Context) error {
		tokens, err := a.currentTokens(ctx)
		if err != nil {
			return err
		}
		attrs, err = a.backend.UserAttributes(ctx, tokens)
		return err
	})
	return attrs, err
}

// GetCurrentToken returns the id token of the current session. No session is
// not an error: the token is empty and err is nil. err is only set when the
// provider or the token store failed.
func (a *Adapter) GetCurrentToken(ctx context.Context) (BearerToken, error) {
	var token BearerToken
	err := a.observe(ctx, "get_current_token", func(ctx context.Context) error {
		tokens, err := a.currentTokens(ctx)
		if errors.Is(err, ErrNotAuthenticated) {
			return nil
		}
		if err != nil {
			return err
		}
		token = BearerToken(tokens.IDToken)
		return nil
	})
	return token, err
}
