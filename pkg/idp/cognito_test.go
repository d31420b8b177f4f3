package idp_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClientID = "zero-dash-client"

// fakeCognito serves discovery, JWKS and the subset of the Cognito JSON API
// the backend uses.
type fakeCognito struct {
	t       *testing.T
	server  *httptest.Server
	signKey jwk.Key
	calls   []string
}

func newFakeCognito(t *testing.T) *fakeCognito {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	f := &fakeCognito{t: t, signKey: key}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(idp.DiscoveryDocument{
			Issuer:  f.server.URL,
			JwksURI: f.server.URL + "/.well-known/jwks.json",
		})
	})
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		pub, err := key.PublicKey()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		set := jwk.NewSet()
		_ = set.AddKey(pub)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("POST /", f.api)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCognito) idToken(username string) string {
	tok, err := jwt.NewBuilder().
		Issuer(f.server.URL).
		Subject("sub-" + username).
		Audience([]string{testClientID}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Claim("cognito:username", username).
		Claim("token_use", "id").
		Build()
	require.NoError(f.t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.signKey))
	require.NoError(f.t, err)
	return string(signed)
}

func writeAPIError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.Header().Set("X-Amzn-ErrorType", code)
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"__type": code, "message": message})
}

func (f *fakeCognito) api(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")
	f.calls = append(f.calls, target)

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	switch target {
	case "AWSCognitoIdentityProviderService.InitiateAuth":
		params, _ := body["AuthParameters"].(map[string]any)
		if body["AuthFlow"] == "REFRESH_TOKEN_AUTH" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"AuthenticationResult": map[string]any{
					"AccessToken": "access-2",
					"IdToken":     f.idToken("alice"),
					"ExpiresIn":   3600,
					"TokenType":   "Bearer",
				},
			})
			return
		}
		if params["PASSWORD"] != "correct-horse" {
			writeAPIError(w, "NotAuthorizedException", "Incorrect username or password.")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{
				"AccessToken":  "access-1",
				"IdToken":      f.idToken(params["USERNAME"].(string)),
				"RefreshToken": "refresh-1",
				"ExpiresIn":    3600,
				"TokenType":    "Bearer",
			},
		})
	case "AWSCognitoIdentityProviderService.SignUp":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"UserConfirmed": false,
			"UserSub":       "sub-alice",
			"CodeDeliveryDetails": map[string]any{
				"AttributeName":  "email",
				"DeliveryMedium": "EMAIL",
				"Destination":    "a***@example.com",
			},
		})
	case "AWSCognitoIdentityProviderService.ConfirmSignUp":
		if body["ConfirmationCode"] != "123456" {
			writeAPIError(w, "CodeMismatchException", "Invalid verification code provided, please try again.")
			return
		}
		_, _ = w.Write([]byte("{}"))
	case "AWSCognitoIdentityProviderService.GetUser":
		if body["AccessToken"] != "access-1" {
			writeAPIError(w, "NotAuthorizedException", "Access Token has been revoked")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Username": "alice",
			"UserAttributes": []map[string]string{
				{"Name": "email", "Value": "alice@example.com"},
				{"Name": "sub", "Value": "sub-alice"},
			},
		})
	case "AWSCognitoIdentityProviderService.RevokeToken":
		_, _ = w.Write([]byte("{}"))
	default:
		writeAPIError(w, "UnknownOperationException", target)
	}
}

func newCognitoBackend(t *testing.T, f *fakeCognito) *idp.CognitoBackend {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b, err := idp.NewCognitoBackend(ctx, idp.CognitoConfig{
		Region:     "eu-central-1",
		UserPoolID: "eu-central-1_test",
		ClientID:   testClientID,
		Endpoint:   f.server.URL,
		Issuer:     f.server.URL,
	}, f.server.Client())
	require.NoError(t, err)
	return b
}

func TestCognitoAuthenticate(t *testing.T) {
	f := newFakeCognito(t)
	b := newCognitoBackend(t, f)
	ctx := context.Background()

	tokens, err := b.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", tokens.Username)
	assert.Equal(t, "sub-alice", tokens.UserID)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.True(t, tokens.ExpiresAt.After(time.Now()))

	_, err = b.Authenticate(ctx, "alice", "wrong")
	var authErr *idp.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "NotAuthorizedException", authErr.Code)
	assert.Equal(t, "Incorrect username or password.", authErr.Message)
}

func TestCognitoRefreshKeepsRefreshToken(t *testing.T) {
	f := newFakeCognito(t)
	b := newCognitoBackend(t, f)

	refreshed, err := b.Refresh(context.Background(), &idp.Tokens{Username: "alice", RefreshToken: "refresh-1"})
	require.NoError(t, err)
	assert.Equal(t, "access-2", refreshed.AccessToken)
	assert.Equal(t, "refresh-1", refreshed.RefreshToken)
}

func TestCognitoSignUpAndConfirm(t *testing.T) {
	f := newFakeCognito(t)
	b := newCognitoBackend(t, f)
	ctx := context.Background()

	result, err := b.SignUp(ctx, "alice", "correct-horse", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, result.ConfirmationRequired)
	assert.Equal(t, "a***@example.com", result.Destination)

	err = b.ConfirmSignUp(ctx, "alice", "000000")
	var authErr *idp.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "CodeMismatchException", authErr.Code)

	require.NoError(t, b.ConfirmSignUp(ctx, "alice", "123456"))
}

func TestCognitoUserAttributes(t *testing.T) {
	f := newFakeCognito(t)
	b := newCognitoBackend(t, f)
	ctx := context.Background()

	attrs, err := b.UserAttributes(ctx, &idp.Tokens{AccessToken: "access-1"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", attrs["email"])

	_, err = b.UserAttributes(ctx, &idp.Tokens{AccessToken: "stale"})
	assert.ErrorIs(t, err, idp.ErrNotAuthenticated)

	require.NoError(t, b.Revoke(ctx, &idp.Tokens{RefreshToken: "refresh-1"}))
	assert.Contains(t, f.calls, "AWSCognitoIdentityProviderService.RevokeToken")
}

func TestCognitoRejectsForeignIDToken(t *testing.T) {
	f := newFakeCognito(t)
	b := newCognitoBackend(t, f)

	other := newFakeCognito(t)
	_, err := b.ParseIDToken(context.Background(), other.idToken("mallory"))
	assert.Error(t, err)
}
