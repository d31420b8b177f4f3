// Package authorizer attaches the current session's bearer token to outbound
// API requests.
package authorizer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/metrics"
	"golang.org/x/oauth2"
)

// TokenSource yields the bearer token of the session found in ctx. An empty
// token with a nil error means there is no session.
type TokenSource interface {
	GetCurrentToken(ctx context.Context) (idp.BearerToken, error)
}

// Transport is an http.RoundTripper that sets the Authorization header when a
// token is available and sends the request unchanged otherwise. The token is
// looked up for every request and never cached.
type Transport struct {
	Tokens  TokenSource
	Base    http.RoundTripper
	Metrics *metrics.Metrics
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.Tokens.GetCurrentToken(ctx)
	switch {
	case err != nil:
		slog.Warn("Unable to resolve token, sending request without authorization", "url", req.URL.Redacted(), "error", err)
	case token == "":
		slog.Debug("No session, sending request without authorization", "url", req.URL.Redacted())
	}

	// RoundTrippers must not modify the caller's request
	out := req.Clone(ctx)
	header := "omitted"
	if err == nil && token != "" {
		tok := &oauth2.Token{AccessToken: string(token), TokenType: "Bearer"}
		tok.SetAuthHeader(out)
		header = "attached"
	}
	if t.Metrics != nil {
		t.Metrics.AuthorizedClient.WithLabelValues(header).Inc()
	}

	return t.base().RoundTrip(out)
}

// NewClient returns an http.Client whose requests carry the session token.
func NewClient(tokens TokenSource, base http.RoundTripper, m *metrics.Metrics) *http.Client {
	return &http.Client{
		Transport: &Transport{
			Tokens:  tokens,
			Base:    base,
			Metrics: m,
		},
	}
}
