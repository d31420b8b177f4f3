package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotAuthenticated is returned when the browser session holds no valid
// provider session. It drives redirects and is never shown to users.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrTokensNotFound is returned by a TokenStore on a miss.
var ErrTokensNotFound = errors.New("tokens not found")

type UserIdentity struct {
	Username   string            `json:"username"`
	UserID     string            `json:"user_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// BearerToken is an opaque, time limited credential. It is never logged.
type BearerToken string

// LogValue hides the token from every slog handler.
func (t BearerToken) LogValue() slog.Value {
	if t == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("<redacted>")
}

// AuthError carries the human readable message of a failed provider
// interaction. Message is shown to the user verbatim.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Tokens is the credential set a provider issues for one signed in user.
type Tokens struct {
	Username     string    `cbor:"1,keyasint" json:"username"`
	UserID       string    `cbor:"2,keyasint" json:"user_id"`
	AccessToken  string    `cbor:"3,keyasint" json:"-"`
	IDToken      string    `cbor:"4,keyasint" json:"-"`
	RefreshToken string    `cbor:"5,keyasint" json:"-"`
	ExpiresAt    time.Time `cbor:"6,keyasint" json:"expires_at"`
}

// Expired reports whether the access and id token are no longer usable.
// A small leeway avoids handing out tokens that expire in flight.
func (t *Tokens) Expired(now time.Time) bool {
	return !now.Add(10 * time.Second).Before(t.ExpiresAt)
}

// LogValue keeps the credentials out of log output.
func (t Tokens) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", t.Username),
		slog.String("user_id", t.UserID),
		slog.Time("expires_at", t.ExpiresAt),
	)
}

type SignUpResult struct {
	ConfirmationRequired bool
	// Where the confirmation code was sent, e.g. a masked email address.
	Destination string
}

// TokenStore keeps provider tokens on behalf of browser sessions.
type TokenStore interface {
	Load(ctx context.Context, sessionID string) (*Tokens, error)
	Save(ctx context.Context, sessionID string, tokens *Tokens) error
	Delete(ctx context.Context, sessionID string) error
}

// Backend is the contract of a remote identity provider. Implementations are
// stateless with respect to browser sessions.
type Backend interface {
	Authenticate(ctx context.Context, username, password string) (*Tokens, error)
	Refresh(ctx context.Context, tokens *Tokens) (*Tokens, error)
	SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	Revoke(ctx context.Context, tokens *Tokens) error
	UserAttributes(ctx context.Context, tokens *Tokens) (map[string]string, error)
}
