package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/displayagent/internal/config"
)

var (
	logLevel   = new(slog.LevelVar)
	configPath string
	cfg        *config.Config
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the agent TOML config")
}

var rootCmd = &cobra.Command{
	Use:   "display-agent",
	Short: "Kiosk display agent for the signage backend",
	Long: `display-agent keeps the kiosk slots (plan, roster, menu) in sync with the
admin backend, rasterizes PDFs into page images and drives the auto-scroll.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logLevel.Set(cfg.LogLevel())
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
