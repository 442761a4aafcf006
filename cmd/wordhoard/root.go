package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/wordhoard/internal/app"
	"github.com/MrWong99/wordhoard/internal/config"
	"github.com/MrWong99/wordhoard/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	envFile    string

	// logLevel backs the default logger so config reloads can change it.
	logLevel slog.LevelVar
)

var rootCmd = &cobra.Command{
	Use:   "wordhoard",
	Short: "Vocabulary catalog with exact and semantic word search",
	Long: `wordhoard keeps a catalog of words with their class, definition and
an example sentence, and finds them by substring, by meaning, or both.

Words live in a relational catalog; their embeddings live in a vector index
that is kept in step with it and repaired in the background.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
	},
	// Without a subcommand, serve.
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config is read")
	rootCmd.Version = version
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %q: %w", path, err)
}

// loadConfig reads the config file and installs the default logger. Logs go
// to stderr so the MCP command can own stdout.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	logLevel.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))
	return cfg, nil
}

// bootstrap loads the config, sets up telemetry, and builds the application.
// The returned cleanup shuts down the app and then telemetry.
func bootstrap(ctx context.Context, opts ...app.Option) (*app.App, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltins(reg)

	opts = append([]app.Option{
		app.WithRegistry(reg),
		app.WithLogLevel(&logLevel),
	}, opts...)
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return nil, nil, nil, err
	}

	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
	return application, cfg, cleanup, nil
}
