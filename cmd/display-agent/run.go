package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/displayagent/internal/config"
	"github.com/Lllllllleong/displayagent/internal/services"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent and serve the kiosk",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, err := services.NewAgent(ctx, cfg)
	if err != nil {
		slog.Error("Critical error during agent initialization", "error", err)
		return err
	}
	defer agent.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.Run(ctx) })
	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, configPath, func(c *config.Config) {
				logLevel.Set(c.LogLevel())
				agent.Reconfigure(c)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Display agent stopped.")
	return nil
}
