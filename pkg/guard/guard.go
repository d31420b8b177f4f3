// Package guard gates protected views behind a verified identity provider
// session.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/metrics"
)

type State int

const (
	Loading State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// UserProvider is the part of the identity provider adapter the guard needs.
type UserProvider interface {
	GetCurrentUser(ctx context.Context) (*idp.UserIdentity, error)
	SignOut(ctx context.Context)
}

// Props are handed to a protected view. They only exist while the guard is
// Authenticated.
type Props struct {
	User    idp.UserIdentity
	SignOut func(ctx context.Context)
}

type Option func(*Guard)

// WithNavigator sets the function invoked with "/" after sign-out.
func WithNavigator(navigate func(path string)) Option {
	return func(g *Guard) {
		g.navigate = navigate
	}
}

// WithCheckTimeout bounds a session check that outlives its request.
func WithCheckTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.checkTimeout = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// Guard verifies the session of one mount. Guards are not shared: every mount
// performs its own check.
type Guard struct {
	provider     UserProvider
	navigate     func(path string)
	metrics      *metrics.Metrics
	checkTimeout time.Duration

	mu        sync.Mutex
	state     State
	user      *idp.UserIdentity
	mounted   bool
	used      bool
	signedOut bool
	settled   chan struct{}
}

func New(provider UserProvider, opts ...Option) *Guard {
	g := &Guard{
		provider:     provider,
		navigate:     func(string) {},
		checkTimeout: 30 * time.Second,
		state:        Loading,
		settled:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Mount enters Loading and starts the session check. The check keeps the
// values of ctx but not its cancellation, so a token refresh started by a
// request that gave up waiting still completes. A guard mounts once.
func (g *Guard) Mount(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used {
		return
	}
	g.used = true
	g.mounted = true
	g.state = Loading

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.checkTimeout)
	go func() {
		defer cancel()
		user, err := g.provider.GetCurrentUser(checkCtx)
		g.resolve(user, err)
	}()
}

// Unmount detaches the guard. Results of an outstanding check are dropped.
func (g *Guard) Unmount() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mounted = false
}

func (g *Guard) resolve(user *idp.UserIdentity, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.mounted {
		slog.Debug("Discarding session check result of unmounted guard")
		if g.metrics != nil {
			g.metrics.DiscardedUpdates.Inc()
		}
		return
	}

	switch {
	case err == nil && user != nil:
		g.state = Authenticated
		g.user = user
	case err == nil, errors.Is(err, idp.ErrNotAuthenticated):
		g.state = Unauthenticated
		g.user = nil
	default:
		slog.Warn("Session check failed", "error", err)
		g.state = Unauthenticated
		g.user = nil
	}
	close(g.settled)
}

// Settled is closed once the check has been applied.
func (g *Guard) Settled() <-chan struct{} {
	return g.settled
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// User is non-nil exactly when the state is Authenticated.
func (g *Guard) User() *idp.UserIdentity {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil {
		return nil
	}
	u := *g.user
	return &u
}

func (g *Guard) Props() (Props, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Authenticated || g.user == nil {
		return Props{}, false
	}
	return Props{User: *g.user, SignOut: g.signOut}, true
}

// signOut ends the provider session, moves to Unauthenticated and navigates
// to the landing page. Repeated calls do nothing.
func (g *Guard) signOut(ctx context.Context) {
	g.mu.Lock()
	if g.signedOut {
		g.mu.Unlock()
		return
	}
	g.signedOut = true
	g.mu.Unlock()

	g.provider.SignOut(ctx)

	g.mu.Lock()
	g.state = Unauthenticated
	g.user = nil
	g.mu.Unlock()

	g.navigate("/")
}
