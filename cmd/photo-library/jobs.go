package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/startup"

	"github.com/spf13/cobra"
)

func newJobsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage background jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(flags),
		newJobsCancelCmd(flags),
		newJobsForceKillCmd(flags),
		newJobsKillStalledCmd(flags),
	)
	return cmd
}

// openLedger opens the database and a ledger with the configured stall
// window, or window when set.
func openLedger(cmd *cobra.Command, flags *rootFlags, window time.Duration) (*jobs.Ledger, func(), error) {
	config := startup.ReadConfig()
	db, err := openDatabase(cmd.Context(), flags, config.DatabaseOptions())
	if err != nil {
		return nil, nil, err
	}
	if window <= 0 {
		window = config.StallWindow
	}
	return jobs.NewLedger(db, window), func() { db.Close() }, nil
}

func newJobsListCmd(flags *rootFlags) *cobra.Command {
	var filter database.JobFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, closeDB, err := openLedger(cmd, flags, 0)
			if err != nil {
				return err
			}
			defer closeDB()

			filter.Status = database.JobStatus(status)
			list, err := ledger.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Type, "type", "", "Only jobs of this type")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of jobs")
	return cmd
}

func newJobsCancelCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ledger, closeDB, err := openLedger(cmd, flags, 0)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := ledger.Cancel(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d cancelled\n", id)
			return nil
		},
	}
}

func newJobsForceKillCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "force-kill <id>",
		Short: "Mark a running job as failed",
		Long: `Mark a running job as failed. The record changes immediately; a worker
still executing the job finishes on its own and its result is discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ledger, closeDB, err := openLedger(cmd, flags, 0)
			if err != nil {
				return err
			}
			defer closeDB()

			if _, err := ledger.ForceKill(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d force-killed\n", id)
			return nil
		},
	}
}

func newJobsKillStalledCmd(flags *rootFlags) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "kill-stalled",
		Short: "Fail running jobs started longer ago than the stall window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, closeDB, err := openLedger(cmd, flags, window)
			if err != nil {
				return err
			}
			defer closeDB()

			killed, err := ledger.ForceKillStalled(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(killed) == 0 {
				fmt.Fprintln(out, "No stalled jobs found")
				return nil
			}
			fmt.Fprintf(out, "Force-killed %d stalled jobs\n", len(killed))
			for _, j := range killed {
				fmt.Fprintf(out, "  %d %s %d/%d\n", j.ID, j.Type, j.ProcessedItems, j.TotalItems)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Stall window (default: STALL_WINDOW)")
	return cmd
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func printJobs(w io.Writer, list []database.Job) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED\tERROR")
	for _, j := range list {
		errMsg := ""
		if j.ErrorMessage != nil {
			errMsg = *j.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d%% (%d/%d)\t%s\t%s\n",
			j.ID, j.Type, j.Status, j.Progress, j.ProcessedItems, j.TotalItems,
			j.CreatedAt.Format(time.RFC3339), errMsg)
	}
	_ = tw.Flush()
}
