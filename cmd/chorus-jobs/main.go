package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chorus/jobs/cmd/chorus-jobs/commands"
	"github.com/chorus/jobs/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chorus-jobs",
	Short: "Chorus job scheduler",
	Long: `chorus-jobs - recurring and on-demand job plans for Chorus workspaces.

Available commands:
  serve   - Run the scheduler, workers, and HTTP API
  plan    - Inspect and create job plans
  am      - Manage configuration ("I am")
  db      - Manage the scheduler database
  version - Show version information

Examples:
  chorus-jobs serve                 # Start the daemon
  chorus-jobs plan ls               # List job plans
  chorus-jobs am show               # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs := false
		level := logger.VerbosityToLevel(verbosity)

		// Without -v the daemon logs at the configured level
		if cmd.Name() == commands.ServeCmd.Name() {
			if cfg, err := commands.LoadConfig(); err == nil {
				jsonLogs = cfg.Log.JSON
				if verbosity == 0 {
					level = logger.ParseLevel(cfg.Log.Level)
				}
			}
		}
		if err := logger.InitializeWithLevel(jsonLogs, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigFile, "config", "", "Config file (default: the am.toml cascade)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.PlanCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
