package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"workhub/internal/app"
	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control reminder jobs on the shared queue",
	Long: `Inspect and control reminder jobs on the shared Redis queue.

Examples:
  workhub jobs list
  workhub jobs schedule TASK_ID --title "Ship it" --project Core --deadline 2026-03-01T18:00:00Z
  workhub jobs cancel TASK_ID
  workhub jobs trigger scan --hours 48
  workhub jobs trigger digest`,
}

var (
	schedTitle    string
	schedProject  string
	schedDeadline string
	scanHours     int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending jobs ordered by due time",
	Args:  cobra.NoArgs,
	RunE: withJobs(func(cmd *cobra.Command, jc *app.JobControl, _ []string) error {
		envs, err := jc.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tKEY\tDUE\tATTEMPTS\tSTATE")
		for _, e := range envs {
			state := "due"
			if !e.LeaseUntil.IsZero() {
				state = "running"
			} else if e.DueAt.After(time.Now()) {
				state = "waiting"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.Kind, e.Key, e.DueAt.Local().Format(time.RFC3339), e.Attempts, state)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d job(s)\n", len(envs))
		return nil
	}),
}

var jobsScheduleCmd = &cobra.Command{
	Use:   "schedule <task-id>",
	Short: "Schedule (or replace) the deadline reminder of a task",
	Args:  cobra.ExactArgs(1),
	RunE: withJobs(func(cmd *cobra.Command, jc *app.JobControl, args []string) error {
		deadline, err := time.Parse(time.RFC3339, schedDeadline)
		if err != nil {
			return errs.WithHint(errs.Wrap(err, "--deadline"), "use RFC3339, e.g. 2026-03-01T18:00:00Z")
		}
		if err := jc.Schedule(cmd.Context(), args[0], schedTitle, schedProject, deadline); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reminder scheduled for %s\n", args[0])
		return nil
	}),
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel the pending deadline reminder of a task",
	Args:  cobra.ExactArgs(1),
	RunE: withJobs(func(cmd *cobra.Command, jc *app.JobControl, args []string) error {
		found, err := jc.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(cmd.OutOrStdout(), "no pending reminder for %s\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reminder cancelled for %s\n", args[0])
		return nil
	}),
}

var jobsTriggerCmd = &cobra.Command{
	Use:       "trigger <scan|digest>",
	Short:     "Queue a reminder scan or the daily digest to run now",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"scan", "digest"},
	RunE: withJobs(func(cmd *cobra.Command, jc *app.JobControl, args []string) error {
		switch args[0] {
		case "scan":
			if err := jc.TriggerScan(cmd.Context(), scanHours); err != nil {
				return err
			}
		case "digest":
			if err := jc.TriggerDigest(cmd.Context()); err != nil {
				return err
			}
		default:
			return errs.Newf("unknown trigger %q (want scan or digest)", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s queued\n", args[0])
		return nil
	}),
}

func init() {
	jobsScheduleCmd.Flags().StringVar(&schedTitle, "title", "", "task title shown in the reminder")
	jobsScheduleCmd.Flags().StringVar(&schedProject, "project", "", "project name shown in the reminder")
	jobsScheduleCmd.Flags().StringVar(&schedDeadline, "deadline", "", "deadline, RFC3339")
	_ = jobsScheduleCmd.MarkFlagRequired("deadline")
	jobsTriggerCmd.Flags().IntVar(&scanHours, "hours", 0, "scan lookahead in hours; 0 uses reminders.reminder_hours")

	jobsCmd.AddCommand(jobsListCmd, jobsScheduleCmd, jobsCancelCmd, jobsTriggerCmd)
}

// withJobs opens the queue for one command and closes it afterwards.
func withJobs(fn func(cmd *cobra.Command, jc *app.JobControl, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		cmd.SetContext(ctx)

		jc, err := app.OpenJobControl(ctx, cfg, logx.NewConsole("WARN"))
		if err != nil {
			return err
		}
		defer jc.Close()
		return fn(cmd, jc, args)
	}
}
