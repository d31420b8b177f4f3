package idp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

const (
	KindCognito = "cognito"
	KindMock    = "mock"
)

type Config struct {
	Kind    string         `yaml:"kind" validate:"required,oneof=cognito mock"`
	Cognito *CognitoConfig `yaml:"cognito" validate:"required_if=Kind cognito"`
	Mock    *MockConfig    `yaml:"mock" validate:"required_if=Kind mock"`
}

type MockConfig struct {
	// base64 HS256 key used to sign mock id tokens; the mock API verifies with it
	SignKeyString string        `yaml:"sign_key" validate:"required,base64"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

// NewBackend creates the backend selected by the configuration.
func NewBackend(ctx context.Context, cfg Config, httpClient *http.Client) (Backend, error) {
	switch cfg.Kind {
	case KindCognito:
		if cfg.Cognito == nil {
			return nil, fmt.Errorf("identity provider %q needs a cognito section", cfg.Kind)
		}
		return NewCognitoBackend(ctx, *cfg.Cognito, httpClient)
	case KindMock:
		if cfg.Mock == nil {
			return nil, fmt.Errorf("identity provider %q needs a mock section", cfg.Kind)
		}
		key, err := base64.StdEncoding.DecodeString(cfg.Mock.SignKeyString)
		if err != nil {
			return nil, fmt.Errorf("decode mock sign key: %w", err)
		}
		return NewMockBackend(key, cfg.Mock.TokenTTL), nil
	default:
		return nil, fmt.Errorf("unknown identity provider kind: %s", cfg.Kind)
	}
}
