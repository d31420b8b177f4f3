package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

// MockIssuer is the iss claim of tokens minted by the mock backend.
const MockIssuer = "https://idp.zero-dash.invalid/mock"

// MockAudience is the aud claim of tokens minted by the mock backend.
const MockAudience = "zero-dash"

type mockUser struct {
	username     string
	sub          string
	passwordHash []byte
	email        string
	confirmed    bool
	code         string
}

type mockGrant struct {
	username  string
	expiresAt time.Time
}

// MockBackend is an in-memory user pool behaving like a Cognito app client
// without secret. Error messages mirror the ones Cognito returns.
type MockBackend struct {
	mux           *sync.RWMutex
	users         map[string]*mockUser
	accessTokens  map[string]mockGrant
	refreshTokens map[string]string
	signKey       []byte
	tokenTTL      time.Duration
	now           func() time.Time
	// fails Revoke, used to exercise sign out error handling
	FailRevoke bool
}

func NewMockBackend(signKey []byte, tokenTTL time.Duration) *MockBackend {
	if tokenTTL == 0 {
		tokenTTL = time.Hour
	}
	return &MockBackend{
		mux:           &sync.RWMutex{},
		users:         make(map[string]*mockUser),
		accessTokens:  make(map[string]mockGrant),
		refreshTokens: make(map[string]string),
		signKey:       signKey,
		tokenTTL:      tokenTTL,
		now:           time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (m *MockBackend) SetClock(now func() time.Time) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.now = now
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func confirmationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func (m *MockBackend) SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error) {
	if len(password) < 8 {
		return nil, &AuthError{Code: "InvalidPasswordException", Message: "Password did not conform with policy: Password not long enough"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	key := strings.ToLower(username)
	if _, exists := m.users[key]; exists {
		return nil, &AuthError{Code: "UsernameExistsException", Message: "User already exists"}
	}
	user := &mockUser{
		username:     username,
		sub:          uuid.NewString(),
		passwordHash: hash,
		email:        email,
		code:         confirmationCode(),
	}
	m.users[key] = user
	slog.Info("Mock IdP: confirmation code issued", "username", username, "code", user.code)

	return &SignUpResult{ConfirmationRequired: true, Destination: maskEmail(email)}, nil
}

// PendingCode returns the confirmation code of an unconfirmed user.
func (m *MockBackend) PendingCode(username string) (string, bool) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	user, ok := m.users[strings.ToLower(username)]
	if !ok || user.confirmed {
		return "", false
	}
	return user.code, true
}

func (m *MockBackend) ConfirmSignUp(ctx context.Context, username, code string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	user, ok := m.users[strings.ToLower(username)]
	if !ok {
		return &AuthError{Code: "UserNotFoundException", Message: "Username/client id combination not found."}
	}
	if user.confirmed {
		return &AuthError{Code: "NotAuthorizedException", Message: "User cannot be confirmed. Current status is CONFIRMED"}
	}
	if user.code != code {
		return &AuthError{Code: "CodeMismatchException", Message: "Invalid verification code provided, please try again."}
	}
	user.confirmed = true
	user.code = ""
	return nil
}

func (m *MockBackend) Authenticate(ctx context.Context, username, password string) (*Tokens, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	user, ok := m.users[strings.ToLower(username)]
	if !ok || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)) != nil {
		return nil, &AuthError{Code: "NotAuthorizedException", Message: "Incorrect username or password."}
	}
	if !user.confirmed {
		return nil, &AuthError{Code: "UserNotConfirmedException", Message: "User is not confirmed."}
	}
	return m.issue(user, randomString(32))
}

func (m *MockBackend) Refresh(ctx context.Context, tokens *Tokens) (*Tokens, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	username, ok := m.refreshTokens[tokens.RefreshToken]
	if !ok {
		return nil, &AuthError{Code: "NotAuthorizedException", Message: "Refresh Token has been revoked"}
	}
	user, ok := m.users[strings.ToLower(username)]
	if !ok {
		return nil, &AuthError{Code: "NotAuthorizedException", Message: "User does not exist."}
	}
	delete(m.accessTokens, tokens.AccessToken)
	return m.issue(user, tokens.RefreshToken)
}

// issue must be called with the lock held.
func (m *MockBackend) issue(user *mockUser, refreshToken string) (*Tokens, error) {
	now := m.now()
	expiresAt := now.Add(m.tokenTTL)

	idToken, err := jwt.NewBuilder().
		Issuer(MockIssuer).
		Subject(user.sub).
		Audience([]string{MockAudience}).
		IssuedAt(now).
		Expiration(expiresAt).
		Claim("cognito:username", user.username).
		Claim("email", user.email).
		Claim("token_use", "id").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build id token: %w", err)
	}
	signed, err := jwt.Sign(idToken, jwt.WithKey(jwa.HS256, m.signKey))
	if err != nil {
		return nil, fmt.Errorf("sign id token: %w", err)
	}

	accessToken := randomString(32)
	m.accessTokens[accessToken] = mockGrant{username: user.username, expiresAt: expiresAt}
	m.refreshTokens[refreshToken] = user.username

	return &Tokens{
		Username:     user.username,
		UserID:       user.sub,
		AccessToken:  accessToken,
		IDToken:      string(signed),
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (m *MockBackend) Revoke(ctx context.Context, tokens *Tokens) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.FailRevoke {
		return fmt.Errorf("mock idp unavailable")
	}
	if _, ok := m.refreshTokens[tokens.RefreshToken]; !ok {
		return &AuthError{Code: "NotAuthorizedException", Message: "Refresh Token has been revoked"}
	}
	delete(m.refreshTokens, tokens.RefreshToken)
	delete(m.accessTokens, tokens.AccessToken)
	return nil
}

func (m *MockBackend) UserAttributes(ctx context.Context, tokens *Tokens) (map[string]string, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	grant, ok := m.accessTokens[tokens.AccessToken]
	if !ok || m.now().After(grant.expiresAt) {
		return nil, ErrNotAuthenticated
	}
	user, ok := m.users[strings.ToLower(grant.username)]
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return map[string]string{
		"sub":            user.sub,
		"email":          user.email,
		"email_verified": "true",
	}, nil
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	return local[:1] + "***@" + domain
}
