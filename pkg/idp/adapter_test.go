package idp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/session"
	"github.com/gematik/zero-dash/pkg/vault"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	backend *idp.MockBackend
	store   idp.TokenStore
	adapter *idp.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := idp.NewMockBackend(session.GenerateRandomKey(256), time.Hour)
	store := vault.NewMemoryStore(24 * time.Hour)
	return &fixture{
		backend: backend,
		store:   store,
		adapter: idp.NewAdapter(backend, store),
	}
}

func browserSession() context.Context {
	return session.WithID(context.Background(), ksuid.New().String())
}

func (f *fixture) register(t *testing.T, ctx context.Context, username, password string) {
	t.Helper()
	result, err := f.adapter.SignUp(ctx, username, password, username+"@example.com")
	require.NoError(t, err)
	require.True(t, result.ConfirmationRequired)
	code, ok := f.backend.PendingCode(username)
	require.True(t, ok)
	require.NoError(t, f.adapter.ConfirmSignUp(ctx, username, code))
}

func TestSignUpConfirmSignInRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()

	result, err := f.adapter.SignUp(ctx, "alice", "correct-horse", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, result.ConfirmationRequired)
	assert.Equal(t, "a***@example.com", result.Destination)

	code, ok := f.backend.PendingCode("alice")
	require.True(t, ok)
	require.NoError(t, f.adapter.ConfirmSignUp(ctx, "alice", code))

	require.NoError(t, f.adapter.SignIn(ctx, "alice", "correct-horse"))

	user, err := f.adapter.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.UserID)
}

func TestInvalidConfirmationCodeLeavesAccountUnconfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()

	_, err := f.adapter.SignUp(ctx, "bob", "correct-horse", "bob@example.com")
	require.NoError(t, err)

	err = f.adapter.ConfirmSignUp(ctx, "bob", "not-a-code")
	var authErr *idp.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Invalid verification code provided, please try again.", authErr.Message)

	err = f.adapter.SignIn(ctx, "bob", "correct-horse")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "User is not confirmed.", authErr.Message)

	_, err = f.adapter.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)
}

func TestSignInWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()
	f.register(t, ctx, "carol", "correct-horse")

	err := f.adapter.SignIn(ctx, "carol", "wrong-horse")
	var authErr *idp.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Incorrect username or password.", authErr.Message)
}

func TestSignInWithoutBrowserSession(t *testing.T) {
	f := newFixture(t)
	err := f.adapter.SignIn(context.Background(), "dave", "correct-horse")
	var authErr *idp.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestNoSession(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()

	_, err := f.adapter.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)

	_, err = f.adapter.FetchUserAttributes(ctx)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)

	token, err := f.adapter.GetCurrentToken(ctx)
	assert.NoError(t, err, "absence of a token is not an error")
	assert.Empty(t, token)

	token, err = f.adapter.GetCurrentToken(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, token)
}

func TestSessionsAreIsolatedPerBrowser(t *testing.T) {
	f := newFixture(t)
	first := browserSession()
	second := browserSession()
	f.register(t, first, "erin", "correct-horse")
	require.NoError(t, f.adapter.SignIn(first, "erin", "correct-horse"))

	_, err := f.adapter.GetCurrentUser(second)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)
}

func TestGetCurrentTokenAndAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()
	f.register(t, ctx, "frank", "correct-horse")
	require.NoError(t, f.adapter.SignIn(ctx, "frank", "correct-horse"))

	token, err := f.adapter.GetCurrentToken(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	attrs, err := f.adapter.FetchUserAttributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frank@example.com", attrs["email"])
}

func TestSignOutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()

	// no session at all
	f.adapter.SignOut(ctx)
	f.adapter.SignOut(context.Background())

	f.register(t, ctx, "grace", "correct-horse")
	require.NoError(t, f.adapter.SignIn(ctx, "grace", "correct-horse"))

	f.adapter.SignOut(ctx)
	f.adapter.SignOut(ctx)

	_, err := f.adapter.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)
}

func TestSignOutSwallowsProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()
	f.register(t, ctx, "heidi", "correct-horse")
	require.NoError(t, f.adapter.SignIn(ctx, "heidi", "correct-horse"))

	f.backend.FailRevoke = true
	f.adapter.SignOut(ctx)

	_, err := f.adapter.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated, "local session must be gone even if the provider failed")
}

func TestExpiredTokensAreRefreshed(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()
	f.register(t, ctx, "ivan", "correct-horse")
	require.NoError(t, f.adapter.SignIn(ctx, "ivan", "correct-horse"))

	sid, _ := session.IDFromContext(ctx)
	before, err := f.store.Load(ctx, sid)
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour)
	f.backend.SetClock(func() time.Time { return later })
	adapter := idp.NewAdapter(f.backend, f.store, idp.WithClock(func() time.Time { return later }))

	user, err := adapter.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ivan", user.Username)

	after, err := f.store.Load(ctx, sid)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken)
	assert.True(t, after.ExpiresAt.After(later))
}

func TestRevokedRefreshTokenEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := browserSession()
	f.register(t, ctx, "judy", "correct-horse")
	require.NoError(t, f.adapter.SignIn(ctx, "judy", "correct-horse"))

	sid, _ := session.IDFromContext(ctx)
	tokens, err := f.store.Load(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, f.backend.Revoke(ctx, tokens))

	later := time.Now().Add(2 * time.Hour)
	adapter := idp.NewAdapter(f.backend, f.store, idp.WithClock(func() time.Time { return later }))

	_, err = adapter.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)

	_, err = f.store.Load(ctx, sid)
	assert.True(t, errors.Is(err, idp.ErrTokensNotFound))
}
