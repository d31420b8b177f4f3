// Package config loads the zero-dash configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/session"
	"github.com/gematik/zero-dash/pkg/vault"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath     = "ZERO_DASH_CONFIG"
	DefaultConfigPath = "config/zero-dash.yaml"
)

type Config struct {
	Address string `yaml:"address" validate:"required"`
	// LoadingTimeout is how long a guarded request waits for the session
	// check before the loading page is served.
	LoadingTimeout   time.Duration  `yaml:"loading_timeout"`
	IdentityProvider idp.Config     `yaml:"identity_provider"`
	API              APIConfig      `yaml:"api"`
	Session          session.Config `yaml:"session"`
	Vault            vault.Config   `yaml:"vault"`
}

// APIConfig points at the analytics backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Path    string        `yaml:"path" validate:"required"`
	Region  string        `yaml:"region"`
	Timeout time.Duration `yaml:"timeout"`
}

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Path returns the config file path from the environment or the default.
func Path() string {
	return GetEnv(EnvConfigPath, DefaultConfigPath)
}

// Parse expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	config := Config{
		LoadingTimeout: 2 * time.Second,
		API: APIConfig{
			Timeout: 10 * time.Second,
		},
		Vault: vault.Config{
			Kind: vault.KindMemory,
		},
	}
	err := yaml.Unmarshal([]byte(expanded), &config)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	validate := validator.New()
	err = validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &config, nil
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

const redactedValue = "[REDACTED]"

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.Session.EncryptKeyString = redact(c.Session.EncryptKeyString)
	out.Session.SignKeyString = redact(c.Session.SignKeyString)
	out.Vault.RedisPassword = redact(c.Vault.RedisPassword)
	if c.IdentityProvider.Cognito != nil {
		cognito := *c.IdentityProvider.Cognito
		cognito.ClientSecret = redact(cognito.ClientSecret)
		out.IdentityProvider.Cognito = &cognito
	}
	if c.IdentityProvider.Mock != nil {
		mock := *c.IdentityProvider.Mock
		mock.SignKeyString = redact(mock.SignKeyString)
		out.IdentityProvider.Mock = &mock
	}
	return out
}
