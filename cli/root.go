package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"ytsheets/config"
	"ytsheets/internal/logging"
)

var (
	configPath string
	logLevel   string
	logConsole bool

	cfg *config.Config
)

// errRunFailed is returned when a run finished with a non-completed status.
var errRunFailed = errors.New("run did not complete")

var rootCmd = &cobra.Command{
	Use:   "ytsheets",
	Short: "Sync YouTube channel uploads into a Google Sheets tab",
	Long: `ytsheets pulls the uploads of one or more YouTube channels through the
Data API, filters them, skips videos already in the destination tab, and
appends the rest to a typed, formatted Google Sheets table.

Configuration is read from ytsheets.json (or ~/.config/ytsheets/ytsheets.json),
then YTSHEETS_* environment variables, then flags. A .env file in the working
directory is loaded first.

Examples:
  ytsheets run @GoogleDevelopers UC_x5XG1OV2P6uZZ5FSM9Ttw --tab Talks
  ytsheets run --min-duration 60 --keywords go,rust --keyword-mode include @channel
  ytsheets schedule --every 6h
  ytsheets quota`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("YTSHEETS_CONFIG", configPath); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if cmd.Flags().Changed("console") {
			loaded.LogConsole = logConsole
		}
		cfg = loaded
		logging.Init(os.Stderr, cfg.LogLevel, "ytsheets", cfg.LogConsole)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ytsheets.json or ~/.config/ytsheets/ytsheets.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "console", false, "human-readable log output")

	rootCmd.AddCommand(runCmd, scheduleCmd, quotaCmd, statsCmd)
}

// exitCode maps command errors to process exit codes.
func exitCode(err error) int {
	if errors.Is(err, errRunFailed) {
		return 2
	}
	return 1
}
