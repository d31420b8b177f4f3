// Package nonce issues one-time anti-forgery nonces for HTML forms.
package nonce

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gematik/zero-dash/pkg/session"
	"github.com/labstack/echo/v4"
)

// FormField is the name of the hidden form input carrying the nonce.
const FormField = "nonce"

var ErrNonceInvalid = errors.New("nonce invalid or already used")

// Service stores one-time nonces.
type Service interface {
	Get() (string, error)
	Redeem(nonceStr string) error
}

// Forms binds the nonces of a Service to the browser session they were
// issued for. The form value is "<nonce>.<mac>" where mac is an HMAC over
// the session id and the nonce, so the session id never appears in a page.
type Forms struct {
	nonces Service
	key    []byte
}

func NewForms(nonces Service, key []byte) (*Forms, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("nonce key must be at least 256 bits, got %d", len(key)*8)
	}
	return &Forms{nonces: nonces, key: key}, nil
}

func (f *Forms) mac(sessionID, nonceStr string) string {
	h := hmac.New(sha256.New, f.key)
	h.Write([]byte("form-nonce\x00" + sessionID + "\x00" + nonceStr))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Issue returns a form value valid only for the session in ctx.
func (f *Forms) Issue(ctx context.Context) (string, error) {
	sessionID, ok := session.IDFromContext(ctx)
	if !ok {
		return "", errors.New("no browser session")
	}
	nonceStr, err := f.nonces.Get()
	if err != nil {
		return "", err
	}
	return nonceStr + "." + f.mac(sessionID, nonceStr), nil
}

// Verify redeems a form value issued by Issue for the session in ctx. Values
// bound to another session are rejected without redeeming their nonce.
func (f *Forms) Verify(ctx context.Context, value string) error {
	sessionID, ok := session.IDFromContext(ctx)
	if !ok {
		return ErrNonceInvalid
	}
	idx := strings.LastIndexByte(value, '.')
	if idx <= 0 {
		return ErrNonceInvalid
	}
	nonceStr, mac := value[:idx], value[idx+1:]
	if !hmac.Equal([]byte(mac), []byte(f.mac(sessionID, nonceStr))) {
		return ErrNonceInvalid
	}
	return f.nonces.Redeem(nonceStr)
}

// RequireForm verifies the nonce of every unsafe request. Requests without a
// valid nonce for their browser session are rejected with 403. It must run
// after the session middleware.
func RequireForm(forms *Forms) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}
			if err := forms.Verify(c.Request().Context(), c.FormValue(FormField)); err != nil {
				slog.Info("Rejecting form", "path", c.Path(), "error", err)
				return echo.NewHTTPError(http.StatusForbidden, "The form has expired, please reload the page and try again")
			}
			return next(c)
		}
	}
}
