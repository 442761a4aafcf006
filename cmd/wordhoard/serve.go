package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wordhoard/internal/app"
	"github.com/MrWong99/wordhoard/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background index repair",
	Long: `Serve the word routes, /healthz, /readyz and /metrics on
server.listen_addr. Words whose vector rows could not be written are repaired
in the background. Log level and search settings are reloaded from the config
file while running.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := loadConfig(); err != nil {
		return err
	}

	// The watcher only polls once Run starts, after application is set.
	var application *app.App
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	})
	if err != nil {
		return err
	}

	application, cfg, cleanup, err := bootstrap(ctx, app.WithWatcher(watcher))
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Info("wordhoard starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr)

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	slog.Info("goodbye")
	return nil
}
