// Package session binds a browser to an opaque session id carried in an
// encrypted and signed cookie. The id is the key under which identity
// provider tokens are kept server side; the cookie itself holds no tokens.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

type contextKey struct{}

// WithID returns a context carrying the browser session id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IDFromContext returns the browser session id, if any.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

type Config struct {
	CookieName            string        `yaml:"cookie_name" validate:"required"`
	EncryptKeyString      string        `yaml:"encrypt_key" validate:"required,base64"`
	SignKeyString         string        `yaml:"sign_key" validate:"required,base64"`
	ProductionGradeCookie bool          `yaml:"production_grade_cookie"`
	TTL                   time.Duration `yaml:"ttl"`
}

// SignKey decodes the HMAC key of the cookie signature.
func (cfg Config) SignKey() ([]byte, error) {
	signKey, err := base64.StdEncoding.DecodeString(cfg.SignKeyString)
	if err != nil {
		return nil, fmt.Errorf("decode sign key: %w", err)
	}
	if len(signKey) < 32 {
		return nil, fmt.Errorf("sign key must be at least 256 bits, got %d", len(signKey)*8)
	}
	return signKey, nil
}

type Manager struct {
	cookieTemplate *http.Cookie
	encryptCookie  CryptoFunc
	decryptCookie  CryptoFunc
	signCookie     CryptoFunc
	verifyCookie   CryptoFunc
	ttl            time.Duration
}

func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{ttl: cfg.TTL}
	if m.ttl == 0 {
		m.ttl = 30 * 24 * time.Hour
	}

	if cfg.ProductionGradeCookie {
		m.cookieTemplate = &http.Cookie{
			Name:     fmt.Sprintf("__Host-%s", cfg.CookieName),
			Path:     "/",
			Secure:   true,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		}
	} else {
		m.cookieTemplate = &http.Cookie{
			Name:     cfg.CookieName,
			Path:     "/",
			Secure:   false,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
	}

	encryptKey, err := base64.StdEncoding.DecodeString(cfg.EncryptKeyString)
	if err != nil {
		return nil, fmt.Errorf("decode encrypt key: %w", err)
	}
	if len(encryptKey) != 32 {
		return nil, fmt.Errorf("encrypt key must be 256 bits, got %d", len(encryptKey)*8)
	}
	m.encryptCookie = EncryptWithDirectKeyFunc(encryptKey)
	m.decryptCookie = DecryptWithDirectKeyFunc(encryptKey)

	signKey, err := cfg.SignKey()
	if err != nil {
		return nil, err
	}
	m.signCookie = SignWithHS256KeyFunc(signKey)
	m.verifyCookie = VerifyWithHS256KeyFunc(signKey)

	return m, nil
}

func (m *Manager) CookieName() string {
	return m.cookieTemplate.Name
}

// Seal produces the cookie value for a session id.
func (m *Manager) Seal(id string) (string, error) {
	signed, err := m.signCookie([]byte(id))
	if err != nil {
		return "", fmt.Errorf("sign session id: %w", err)
	}
	encrypted, err := m.encryptCookie(signed)
	if err != nil {
		return "", fmt.Errorf("encrypt session id: %w", err)
	}
	return string(encrypted), nil
}

// Open recovers the session id from a cookie value.
func (m *Manager) Open(value string) (string, error) {
	decrypted, err := m.decryptCookie([]byte(value))
	if err != nil {
		return "", fmt.Errorf("cookie decryption failed: %w", err)
	}
	data, err := m.verifyCookie(decrypted)
	if err != nil {
		return "", fmt.Errorf("cookie signature verification failed: %w", err)
	}
	id, err := ksuid.Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("malformed session id: %w", err)
	}
	return id.String(), nil
}

func (m *Manager) retrieve(r *http.Request) (string, error) {
	cookie, err := r.Cookie(m.cookieTemplate.Name)
	if err != nil {
		return "", fmt.Errorf("cookie not found: %w", err)
	}
	return m.Open(cookie.Value)
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) error {
	value, err := m.Seal(id)
	if err != nil {
		return err
	}
	cookie := *m.cookieTemplate
	cookie.Value = value
	cookie.MaxAge = int(m.ttl.Seconds())
	http.SetCookie(w, &cookie)
	return nil
}

// Renew moves the request to a fresh session id and replaces the cookie.
// Called around sign-in and sign-out so an id known before either is useless
// afterwards.
func (m *Manager) Renew(c echo.Context) (string, error) {
	id := ksuid.New().String()
	if err := m.setCookie(c.Response(), id); err != nil {
		return "", fmt.Errorf("renew session cookie: %w", err)
	}
	r := c.Request()
	c.SetRequest(r.WithContext(WithID(r.Context(), id)))
	return id, nil
}

// Middleware makes sure every request belongs to a browser session. Requests
// without a valid cookie get a fresh id and a new cookie.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			id, err := m.retrieve(r)
			if err != nil {
				if r.Header.Get("Cookie") != "" {
					slog.Debug("Starting new browser session", "reason", err)
				}
				id = ksuid.New().String()
				if err := m.setCookie(c.Response(), id); err != nil {
					return fmt.Errorf("set session cookie: %w", err)
				}
			}
			c.SetRequest(r.WithContext(WithID(r.Context(), id)))
			return next(c)
		}
	}
}
