package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/idlemail/mailhubd/internal/config"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mail hub and run until terminated",
	RunE: func(_ *cobra.Command, _ []string) error {
		if configPath == "" {
			return fmt.Errorf("missing required -c/--config flag")
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		h, err := config.Build(cfg, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to build hub from configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stopToken := h.StopHandle()
		go func() {
			<-ctx.Done()
			slog.Info("received termination signal, initiating shutdown")
			stopToken.Stop()
		}()

		slog.Info("starting mail hub", "config", configPath)
		return h.Run()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}
