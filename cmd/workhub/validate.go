package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "config ok")
		fmt.Fprintf(out, "  telegram:  %v (webhook=%v)\n", cfg.Telegram.Enabled(), cfg.Telegram.WebhookURL != "")
		fmt.Fprintf(out, "  queue:     %s\n", cfg.Queue.Driver)
		fmt.Fprintf(out, "  sessions:  %s\n", cfg.Conversation.Store)
		fmt.Fprintf(out, "  scan:      %dh lookahead on %s, delivery=%s\n", cfg.Reminders.ReminderHours, cfg.Reminders.ScanSchedule, cfg.Reminders.ScanDelivery)
		fmt.Fprintf(out, "  digest at: %s (%s)\n", cfg.Reminders.DigestAt, cfg.Location())
		fmt.Fprintf(out, "  http:      %v %s\n", cfg.HTTP.Enabled, cfg.HTTP.Addr)
		return nil
	},
}
