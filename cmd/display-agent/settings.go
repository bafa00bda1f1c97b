package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/services"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the kiosk display settings",
	RunE:  runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current display settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change display settings on the backend",
	Long: `Change one or more display settings. Only the flags given are sent.

  --speed            slow, normal or fast
  --roster-interval  roster rotation period, e.g. 30s
  --menu-interval    menu rotation period, e.g. 1m
  --restart-delay    pause before scrolling again, e.g. 5s`,
	RunE: runSettingsSet,
}

var (
	setSpeed          string
	setRosterInterval time.Duration
	setMenuInterval   time.Duration
	setRestartDelay   time.Duration
)

func init() {
	settingsSetCmd.Flags().StringVar(&setSpeed, "speed", "", "scroll speed")
	settingsSetCmd.Flags().DurationVar(&setRosterInterval, "roster-interval", 0, "roster rotation period")
	settingsSetCmd.Flags().DurationVar(&setMenuInterval, "menu-interval", 0, "menu rotation period")
	settingsSetCmd.Flags().DurationVar(&setRestartDelay, "restart-delay", 0, "auto restart delay")
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func printSettings(cmd *cobra.Command, s models.DisplaySettings) {
	cmd.Printf("scroll speed:    %s\n", s.ScrollSpeed)
	cmd.Printf("roster interval: %s\n", s.RosterInterval())
	cmd.Printf("menu interval:   %s\n", s.MenuInterval())
	cmd.Printf("restart delay:   %s\n", s.RestartDelay())
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	s, err := services.NewBackendClient(cfg).DisplaySettings(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	printSettings(cmd, s)
	return nil
}

func runSettingsSet(cmd *cobra.Command, _ []string) error {
	var patch models.SettingsPatch
	flags := cmd.Flags()
	if flags.Changed("speed") {
		speed := models.ScrollSpeed(setSpeed)
		switch speed {
		case models.ScrollSlow, models.ScrollNormal, models.ScrollFast:
		default:
			return fmt.Errorf("invalid speed %q: use slow, normal or fast", setSpeed)
		}
		patch.ScrollSpeed = &speed
	}
	if flags.Changed("roster-interval") {
		ms := int(setRosterInterval.Milliseconds())
		patch.EscalaAlternateInterval = &ms
	}
	if flags.Changed("menu-interval") {
		ms := int(setMenuInterval.Milliseconds())
		patch.CardapioAlternateInterval = &ms
	}
	if flags.Changed("restart-delay") {
		sec := int(setRestartDelay.Seconds())
		patch.AutoRestartDelay = &sec
	}
	if patch == (models.SettingsPatch{}) {
		return fmt.Errorf("nothing to change: pass at least one flag")
	}

	s, err := services.NewBackendClient(cfg).UpdateDisplaySettings(cmd.Context(), patch)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	cmd.Println("Settings updated.")
	printSettings(cmd, s)
	return nil
}
