package main

import (
	"fmt"
	"os"

	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/startup"

	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	dbURL    string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "photo-library",
		Short: "Personal photo library server and maintenance tool",
		Long: `photo-library indexes folders of photos into a database, generates
thumbnails, tags and perceptual fingerprints in background jobs, and finds
visually similar images.

Example usage:
  photo-library serve                          # Run the HTTP API
  photo-library migrate                        # Apply schema migrations
  photo-library phash                          # Fingerprint images without one
  photo-library duplicates --threshold 4       # Print duplicate clusters
  photo-library jobs list --status running     # Inspect background jobs`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			startup.LoadDotEnv()
			if flags.logLevel == "" {
				return nil
			}
			level, err := logging.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			logging.SetLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.dbURL, "db", "", "Database URL or SQLite path (default: DATABASE_URL)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error (default: LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newPhashCmd(flags),
		newDuplicatesCmd(flags),
		newJobsCmd(flags),
		newVersionCmd(),
	)
	return root
}

// databaseURL returns the --db flag, falling back to the environment.
func (f *rootFlags) databaseURL() string {
	if f.dbURL != "" {
		return f.dbURL
	}
	return startup.ReadConfig().DatabaseURL
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := startup.GetBuildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "photo-library %s (commit %s, built %s, %s %s/%s)\n",
				info.Version, info.Commit, info.BuildTime, info.GoVersion, info.OS, info.Arch)
		},
	}
}
