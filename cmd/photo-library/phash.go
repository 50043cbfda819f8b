package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/startup"
	"github.com/esprusso/photo-library/internal/tasks"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// phashPollInterval is how often the progress bar reads the job counters.
const phashPollInterval = 250 * time.Millisecond

func newPhashCmd(flags *rootFlags) *cobra.Command {
	var params tasks.PhashParams

	cmd := &cobra.Command{
		Use:   "phash",
		Short: "Run a fingerprint job in the foreground",
		Long: `Compute perceptual fingerprints for images that have none, or for every
image with --recompute. The work is recorded as a phash job, exactly as if it
had been started through the API, but runs in this process with a progress
bar. If a phash job is already pending or running, its id is reported and
nothing is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			config := startup.ReadConfig()
			db, err := openDatabase(ctx, flags, config.DatabaseOptions())
			if err != nil {
				return err
			}
			defer db.Close()

			paths, err := config.PathMapper()
			if err != nil {
				return fmt.Errorf("failed to load path mappings: %w", err)
			}

			runnerConfig := jobs.DefaultRunnerConfig()
			runnerConfig.FlushEvery = 1
			runner := jobs.NewRunner(jobs.NewLedger(db, config.StallWindow), runnerConfig)
			tasks.Register(runner, tasks.Deps{DB: db, Paths: paths})

			ledger := runner.Ledger()
			job, created, err := ledger.Start(ctx, tasks.TypePhash, params)
			if err != nil {
				return fmt.Errorf("failed to start phash job: %w", err)
			}
			out := cmd.OutOrStdout()
			if !created {
				fmt.Fprintf(out, "A phash job is already %s (job %d).\n", job.Status, job.ID)
				return nil
			}

			var bar *progressbar.ProgressBar
			if isTerminal(out) {
				bar = newPhashProgressBar()
			}
			pollCtx, stopPoll := context.WithCancel(ctx)
			polled := make(chan struct{})
			go func() {
				defer close(polled)
				followJob(pollCtx, ledger, job.ID, bar)
			}()

			runErr := runner.Run(ctx, job.ID)
			stopPoll()
			<-polled
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			if runErr != nil {
				return fmt.Errorf("phash job %d failed: %w", job.ID, runErr)
			}

			job, err = ledger.Get(context.WithoutCancel(ctx), job.ID)
			if err != nil {
				return err
			}
			return printPhashResult(out, job)
		},
	}

	cmd.Flags().BoolVar(&params.Recompute, "recompute", false, "Recompute fingerprints that already exist")
	cmd.Flags().IntVar(&params.Workers, "workers", 0, "Images decoded in parallel (default: PHASH_WORKERS or derived from CPU count)")
	return cmd
}

// followJob mirrors the job's persisted counters onto bar until ctx ends.
func followJob(ctx context.Context, ledger *jobs.Ledger, id int64, bar *progressbar.ProgressBar) {
	if bar == nil {
		return
	}
	ticker := time.NewTicker(phashPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := ledger.Get(ctx, id)
			if err != nil {
				logging.Debug("Failed to read progress of job %d: %v", id, err)
				continue
			}
			if job.TotalItems > 0 && bar.GetMax() != job.TotalItems {
				bar.ChangeMax(job.TotalItems)
			}
			_ = bar.Set(job.ProcessedItems)
		}
	}
}

func printPhashResult(out io.Writer, job *database.Job) error {
	var res tasks.PhashResult
	if len(job.Result) > 0 {
		if err := json.Unmarshal(job.Result, &res); err != nil {
			return fmt.Errorf("invalid result on job %d: %w", job.ID, err)
		}
	}
	fmt.Fprintf(out, "Job:       %d (%s)\n", job.ID, job.Status)
	fmt.Fprintf(out, "Processed: %d\n", res.Processed)
	fmt.Fprintf(out, "Computed:  %d\n", res.Computed)
	fmt.Fprintf(out, "Errors:    %d\n", res.Errors)
	return nil
}

// newPhashProgressBar creates a progress bar on stderr. Its size is set
// once the job reports total_items.
func newPhashProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Computing fingerprints"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
