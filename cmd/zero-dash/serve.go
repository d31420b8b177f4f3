package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gematik/zero-dash/pkg/analytics"
	"github.com/gematik/zero-dash/pkg/authorizer"
	"github.com/gematik/zero-dash/pkg/config"
	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/gematik/zero-dash/pkg/metrics"
	"github.com/gematik/zero-dash/pkg/nonce"
	"github.com/gematik/zero-dash/pkg/session"
	"github.com/gematik/zero-dash/pkg/vault"
	"github.com/gematik/zero-dash/pkg/web"
	"github.com/spf13/cobra"
)

const nonceExpiry = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard web server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, configPath)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, path string) error {
	slog.Info("Loading config", "config_path", path)
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	m := metrics.New()

	backend, err := idp.NewBackend(ctx, cfg.IdentityProvider, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	store, redisClient, err := vault.Open(ctx, cfg.Vault)
	if err != nil {
		return fmt.Errorf("token vault: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	adapter := idp.NewAdapter(backend, store, idp.WithMetrics(m))

	apiClient := authorizer.NewClient(adapter, http.DefaultTransport, m)
	apiClient.Timeout = cfg.API.Timeout
	analyticsClient, err := analytics.NewClient(apiClient, cfg.API.BaseURL, cfg.API.Path, m)
	if err != nil {
		return err
	}
	slog.Info("Using analytics API", "endpoint", analyticsClient.Endpoint(), "region", cfg.API.Region)

	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	var nonces nonce.Service
	if redisClient != nil {
		nonces = nonce.NewRedisNonceService(redisClient, cfg.Vault.KeyPrefix, nonceExpiry)
	} else {
		memoryNonces, err := nonce.NewHashicorpNonceService()
		if err != nil {
			return err
		}
		go tidyNonces(ctx, memoryNonces)
		nonces = memoryNonces
	}
	// nonces are bound to the browser session with the cookie sign key
	signKey, err := cfg.Session.SignKey()
	if err != nil {
		return err
	}
	forms, err := nonce.NewForms(nonces, signKey)
	if err != nil {
		return err
	}

	srv, err := web.New(web.Options{
		Identity:       adapter,
		Analytics:      analyticsClient,
		Sessions:       sessions,
		Forms:          forms,
		Metrics:        m,
		LoadingTimeout: cfg.LoadingTimeout,
	})
	if err != nil {
		return err
	}

	slog.Info("Starting zero-dash", "address", cfg.Address, "identity_provider", cfg.IdentityProvider.Kind, "vault", cfg.Vault.Kind)
	return srv.ListenAndServe(ctx, cfg.Address)
}

func tidyNonces(ctx context.Context, nonces *nonce.HashicorpNonceService) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nonces.Tidy()
		}
	}
}
