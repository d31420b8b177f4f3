package guard_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gematik/zero-dash/pkg/guard"
	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/metrics"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider answers GetCurrentUser once release is closed.
type fakeProvider struct {
	mu       sync.Mutex
	user     *idp.UserIdentity
	err      error
	release  chan struct{}
	signOuts int
	checks   int
	ctxErr   error
}

func newFakeProvider(user *idp.UserIdentity, err error) *fakeProvider {
	release := make(chan struct{})
	close(release)
	return &fakeProvider{user: user, err: err, release: release}
}

func (f *fakeProvider) GetCurrentUser(ctx context.Context) (*idp.UserIdentity, error) {
	<-f.release
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	f.ctxErr = ctx.Err()
	return f.user, f.err
}

func (f *fakeProvider) SignOut(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
}

func alice() *idp.UserIdentity {
	return &idp.UserIdentity{Username: "alice", UserID: "sub-alice"}
}

func settle(t *testing.T, g *guard.Guard) {
	t.Helper()
	select {
	case <-g.Settled():
	case <-time.After(time.Second):
		t.Fatal("guard did not settle")
	}
}

func TestGuardAuthenticated(t *testing.T) {
	g := guard.New(newFakeProvider(alice(), nil))
	assert.Equal(t, guard.Loading, g.State())
	_, ok := g.Props()
	assert.False(t, ok, "no props while loading")

	g.Mount(context.Background())
	defer g.Unmount()
	settle(t, g)

	assert.Equal(t, guard.Authenticated, g.State())
	require.NotNil(t, g.User())
	assert.Equal(t, "alice", g.User().Username)
	props, ok := g.Props()
	require.True(t, ok)
	assert.Equal(t, "alice", props.User.Username)
}

func TestGuardUnauthenticated(t *testing.T) {
	for name, err := range map[string]error{
		"not authenticated": idp.ErrNotAuthenticated,
		"provider failure":  errors.New("network down"),
	} {
		t.Run(name, func(t *testing.T) {
			g := guard.New(newFakeProvider(nil, err))
			g.Mount(context.Background())
			defer g.Unmount()
			settle(t, g)

			assert.Equal(t, guard.Unauthenticated, g.State())
			assert.Nil(t, g.User())
			_, ok := g.Props()
			assert.False(t, ok)
		})
	}
}

func TestStaleResultAfterUnmountIsDropped(t *testing.T) {
	provider := newFakeProvider(alice(), nil)
	provider.release = make(chan struct{})
	m := metrics.New()

	g := guard.New(provider, guard.WithMetrics(m))
	g.Mount(context.Background())
	g.Unmount()
	close(provider.release)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DiscardedUpdates) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, guard.Loading, g.State())
	assert.Nil(t, g.User())

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.NoError(t, provider.ctxErr, "unmount must not abort the provider call")
}

func TestCheckOutlivesRequest(t *testing.T) {
	provider := newFakeProvider(alice(), nil)
	provider.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	g := guard.New(provider)
	g.Mount(ctx)
	cancel()
	g.Unmount()
	close(provider.release)

	assert.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.checks == 1
	}, time.Second, 5*time.Millisecond)
	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.NoError(t, provider.ctxErr)
}

func TestSignOutNavigatesOnce(t *testing.T) {
	provider := newFakeProvider(alice(), nil)
	var navigations []string
	g := guard.New(provider, guard.WithNavigator(func(path string) {
		navigations = append(navigations, path)
	}))
	g.Mount(context.Background())
	defer g.Unmount()
	settle(t, g)

	props, ok := g.Props()
	require.True(t, ok)
	props.SignOut(context.Background())
	props.SignOut(context.Background())

	assert.Equal(t, []string{"/"}, navigations)
	assert.Equal(t, guard.Unauthenticated, g.State())
	assert.Nil(t, g.User())
	assert.Equal(t, 1, provider.signOuts)
}

func serve(p *guard.Protector, view guard.View, method, target string) *httptest.ResponseRecorder {
	e := echo.New()
	e.Any("/home", p.Protect(view))
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestProtectRedirectsWithoutSession(t *testing.T) {
	p := guard.NewProtector(newFakeProvider(nil, idp.ErrNotAuthenticated), time.Second, metrics.New())
	constructed := false
	rec := serve(p, func(c echo.Context, props guard.Props) error {
		constructed = true
		return c.String(http.StatusOK, "secret")
	}, http.MethodGet, "/home")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.False(t, constructed)
}

func TestProtectRendersLoadingWithoutContent(t *testing.T) {
	provider := newFakeProvider(alice(), nil)
	provider.release = make(chan struct{})
	defer close(provider.release)

	p := guard.NewProtector(provider, 10*time.Millisecond, metrics.New())
	constructed := false
	rec := serve(p, func(c echo.Context, props guard.Props) error {
		constructed = true
		return c.String(http.StatusOK, "secret")
	}, http.MethodGet, "/home")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Loading")
	assert.Contains(t, rec.Body.String(), `http-equiv="refresh"`)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.False(t, constructed)
}

func TestProtectRedirectsFormPostWhileLoading(t *testing.T) {
	provider := newFakeProvider(alice(), nil)
	provider.release = make(chan struct{})
	defer close(provider.release)

	p := guard.NewProtector(provider, 10*time.Millisecond, nil)
	constructed := false
	rec := serve(p, func(c echo.Context, props guard.Props) error {
		constructed = true
		props.SignOut(c.Request().Context())
		return nil
	}, http.MethodPost, "/home")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
	assert.False(t, constructed)
}

func TestProtectRendersView(t *testing.T) {
	m := metrics.New()
	p := guard.NewProtector(newFakeProvider(alice(), nil), time.Second, m)
	rec := serve(p, func(c echo.Context, props guard.Props) error {
		return c.String(http.StatusOK, "Welcome, "+props.User.Username+"!")
	}, http.MethodGet, "/home")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome, alice!", rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardResolutions.WithLabelValues("authenticated")))
}

func TestProtectSignOutRedirectsToLanding(t *testing.T) {
	provider := newFakeProvider(alice(), nil)
	p := guard.NewProtector(provider, time.Second, nil)
	rec := serve(p, func(c echo.Context, props guard.Props) error {
		props.SignOut(c.Request().Context())
		props.SignOut(c.Request().Context())
		return nil
	}, http.MethodPost, "/home")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, 1, provider.signOuts)
}
