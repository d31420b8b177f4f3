package idp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type CognitoConfig struct {
	Region       string `yaml:"region" validate:"required"`
	UserPoolID   string `yaml:"user_pool_id" validate:"required"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret"`
	// Endpoint overrides the regional cognito-idp endpoint.
	Endpoint string `yaml:"endpoint"`
	// Issuer overrides the user pool issuer derived from region and pool id.
	Issuer string `yaml:"issuer"`
}

func (c CognitoConfig) issuer() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// CognitoBackend talks to an AWS Cognito user pool app client.
type CognitoBackend struct {
	cfg        CognitoConfig
	client     *cip.Client
	httpClient *http.Client
	discovery  *DiscoveryDocument
	keyCache   *jwk.Cache
}

func NewCognitoBackend(ctx context.Context, cfg CognitoConfig, httpClient *http.Client) (*CognitoBackend, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	opts := cip.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  httpClient,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	b := &CognitoBackend{
		cfg:        cfg,
		client:     cip.New(opts),
		httpClient: httpClient,
	}

	var err error
	b.discovery, err = FetchDiscoveryDocument(ctx, httpClient, cfg.issuer())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document of %s: %w", cfg.issuer(), err)
	}

	// prepare the auto-refreshing signing key cache
	b.keyCache = jwk.NewCache(ctx)
	err = b.keyCache.Register(
		b.discovery.JwksURI,
		jwk.WithMinRefreshInterval(15*time.Minute),
		jwk.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register signing keys: %w", err)
	}
	if _, err = b.keyCache.Refresh(ctx, b.discovery.JwksURI); err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}

	slog.Info("Using Cognito user pool", "issuer", b.discovery.Issuer, "client_id", cfg.ClientID)

	return b, nil
}

// secretHash is required by app clients that have a secret.
func (b *CognitoBackend) secretHash(username string) *string {
	if b.cfg.ClientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(b.cfg.ClientSecret))
	mac.Write([]byte(username + b.cfg.ClientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// providerError turns a Cognito API error into an AuthError carrying the
// provider message. Transport errors are returned unchanged.
func providerError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &AuthError{Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage(), Err: err}
	}
	return err
}

func (b *CognitoBackend) Authenticate(ctx context.Context, username, password string) (*Tokens, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if hash := b.secretHash(username); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	out, err := b.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(b.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, providerError(err)
	}
	if out.AuthenticationResult == nil {
		return nil, &AuthError{
			Code:    "UnsupportedChallenge",
			Message: fmt.Sprintf("Sign in requires an unsupported step: %s", out.ChallengeName),
		}
	}

	return b.tokensFromResult(ctx, out.AuthenticationResult, "")
}

func (b *CognitoBackend) Refresh(ctx context.Context, tokens *Tokens) (*Tokens, error) {
	params := map[string]string{
		"REFRESH_TOKEN": tokens.RefreshToken,
	}
	if hash := b.secretHash(tokens.Username); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	out, err := b.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(b.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, providerError(err)
	}
	if out.AuthenticationResult == nil {
		return nil, &AuthError{Code: "NotAuthorizedException", Message: "Refresh did not return tokens"}
	}

	// the refresh flow does not rotate the refresh token
	return b.tokensFromResult(ctx, out.AuthenticationResult, tokens.RefreshToken)
}

func (b *CognitoBackend) tokensFromResult(ctx context.Context, result *types.AuthenticationResultType, refreshToken string) (*Tokens, error) {
	idToken := aws.ToString(result.IdToken)
	parsed, err := b.ParseIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}

	username := parsed.Subject()
	if v, ok := parsed.Get("cognito:username"); ok {
		if s, ok := v.(string); ok && s != "" {
			username = s
		}
	}

	if rt := aws.ToString(result.RefreshToken); rt != "" {
		refreshToken = rt
	}

	expiresAt := parsed.Expiration()
	if result.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}

	return &Tokens{
		Username:     username,
		UserID:       parsed.Subject(),
		AccessToken:  aws.ToString(result.AccessToken),
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// Parses and verifies an ID token against the keys from the discovery document.
func (b *CognitoBackend) ParseIDToken(ctx context.Context, serialized string) (jwt.Token, error) {
	keySet, err := b.keyCache.Get(ctx, b.discovery.JwksURI)
	if err != nil {
		return nil, fmt.Errorf("unable to get key set: %w", err)
	}

	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(b.discovery.Issuer),
		jwt.WithAudience(b.cfg.ClientID),
		jwt.WithClaimValue("token_use", "id"),
		jwt.WithRequiredClaim("exp"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse id token: %w", err)
	}
	return token, nil
}

func (b *CognitoBackend) SignUp(ctx context.Context, username, password, email string) (*SignUpResult, error) {
	out, err := b.client.SignUp(ctx, &cip.SignUpInput{
		ClientId:   aws.String(b.cfg.ClientID),
		Username:   aws.String(username),
		Password:   aws.String(password),
		SecretHash: b.secretHash(username),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	})
	if err != nil {
		return nil, providerError(err)
	}

	result := &SignUpResult{ConfirmationRequired: !out.UserConfirmed}
	if out.CodeDeliveryDetails != nil {
		result.Destination = aws.ToString(out.CodeDeliveryDetails.Destination)
	}
	return result, nil
}

func (b *CognitoBackend) ConfirmSignUp(ctx context.Context, username, code string) error {
	_, err := b.client.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(b.cfg.ClientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		SecretHash:       b.secretHash(username),
	})
	return providerError(err)
}

// Revoke invalidates the refresh token and every access token issued from it.
func (b *CognitoBackend) Revoke(ctx context.Context, tokens *Tokens) error {
	input := &cip.RevokeTokenInput{
		ClientId: aws.String(b.cfg.ClientID),
		Token:    aws.String(tokens.RefreshToken),
	}
	if b.cfg.ClientSecret != "" {
		input.ClientSecret = aws.String(b.cfg.ClientSecret)
	}
	_, err := b.client.RevokeToken(ctx, input)
	return providerError(err)
}

func (b *CognitoBackend) UserAttributes(ctx context.Context, tokens *Tokens) (map[string]string, error) {
	out, err := b.client.GetUser(ctx, &cip.GetUserInput{
		AccessToken: aws.String(tokens.AccessToken),
	})
	if err != nil {
		var notAuthorized *types.NotAuthorizedException
		if errors.As(err, &notAuthorized) {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, notAuthorized.ErrorMessage())
		}
		return nil, providerError(err)
	}

	attrs := make(map[string]string, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs[aws.ToString(a.Name)] = aws.ToString(a.Value)
	}
	return attrs, nil
}
