package main

import (
	"log/slog"
	"os"

	"github.com/gematik/zero-dash/pkg/config"
	"github.com/gematik/zero-dash/pkg/prettylog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "zero-dash",
	Short: "Authenticated user dashboard",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return err
		}
		if os.Getenv("PRETTY_LOGS") != "false" {
			slog.SetDefault(slog.New(prettylog.NewHandler(level)))
		} else {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		}
		return nil
	},
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.Path(), "path of the config file, defaults to $"+config.EnvConfigPath)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.GetEnv("LOG_LEVEL", "debug"), "debug, info, warn or error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
