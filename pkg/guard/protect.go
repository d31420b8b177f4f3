package guard

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gematik/zero-dash/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// View renders a protected page. It is only called with the props of an
// authenticated guard.
type View func(c echo.Context, props Props) error

type Protector struct {
	Provider UserProvider
	// LoadingTimeout bounds how long a request waits for the session check
	// before the loading page is rendered.
	LoadingTimeout time.Duration
	LoginPath      string
	// Loading renders the placeholder shown while the check is outstanding.
	Loading echo.HandlerFunc
	Metrics *metrics.Metrics
}

func NewProtector(provider UserProvider, loadingTimeout time.Duration, m *metrics.Metrics) *Protector {
	return &Protector{
		Provider:       provider,
		LoadingTimeout: loadingTimeout,
		LoginPath:      "/login",
		Loading:        loadingPage,
		Metrics:        m,
	}
}

func loadingPage(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTML(http.StatusOK, `<!DOCTYPE html><html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head><body><p>Loading...</p></body></html>`)
}

type navigation struct {
	mu   sync.Mutex
	path string
}

func (n *navigation) set(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

func (n *navigation) get() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Protect mounts a fresh guard for every request and renders the view only
// once the session has been verified. Unauthenticated requests are
// redirected to the login page without constructing the view.
func (p *Protector) Protect(view View) echo.HandlerFunc {
	return func(c echo.Context) error {
		nav := &navigation{}
		g := New(p.Provider, WithMetrics(p.Metrics), WithNavigator(nav.set))

		ctx := c.Request().Context()
		g.Mount(ctx)
		defer g.Unmount()

		timer := time.NewTimer(p.LoadingTimeout)
		defer timer.Stop()
		select {
		case <-g.Settled():
		case <-timer.C:
		case <-ctx.Done():
			slog.Debug("Request ended before the session check", "path", c.Path())
			return nil
		}

		state := g.State()
		if p.Metrics != nil {
			p.Metrics.GuardResolutions.WithLabelValues(state.String()).Inc()
		}

		props, ok := g.Props()
		switch {
		case state == Loading && c.Request().Method != http.MethodGet && c.Request().Method != http.MethodHead:
			// the form nonce is spent, send the browser back to the page
			return c.Redirect(http.StatusSeeOther, c.Request().URL.Path)
		case state == Loading:
			return p.Loading(c)
		case !ok:
			return c.Redirect(http.StatusFound, p.LoginPath)
		}

		if err := view(c, props); err != nil {
			return err
		}
		if path := nav.get(); path != "" && !c.Response().Committed {
			return c.Redirect(http.StatusSeeOther, path)
		}
		return nil
	}
}
