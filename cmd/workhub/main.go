package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"workhub/internal/config"
	"workhub/internal/errs"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "workhub",
	Short: "Task tracker companion: deadline reminders, digests and chat task creation",
	Long: `workhub runs the background side of the task tracker.

It schedules deadline reminders on a shared Redis queue, posts the daily
digest and reminder scans to the team chat, and walks chat users through
creating a task that is submitted to the tracker inbox.

Examples:
  workhub run --config ./config.yaml
  workhub validate --config ./config.yaml
  workhub jobs list
  workhub jobs schedule TASK_ID --title "Ship it" --deadline 2026-03-01T18:00:00Z`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv()
	},
	RunE: runRun,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (json or yaml); empty reads env only")
	rootCmd.AddCommand(runCmd, validateCmd, jobsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		for _, h := range errs.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "hint:", h)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.NewConfigManager(cfgPath).Parse()
}
