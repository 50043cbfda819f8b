package main

import (
	"fmt"

	"github.com/esprusso/photo-library/internal/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending schema migrations and report the resulting schema version
and capabilities. Running it on an up-to-date database is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDatabase(ctx, flags, database.Options{AutoMigrate: false})
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			before := db.SchemaVersion()
			if err := db.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			after := db.SchemaVersion()

			if before == after {
				fmt.Fprintf(out, "Schema is up to date (version %d)\n", after)
			} else {
				fmt.Fprintf(out, "Migrated schema from version %d to %d\n", before, after)
			}
			caps := db.Capabilities()
			fmt.Fprintf(out, "Fingerprints:    %v\n", caps.SupportsFingerprint)
			fmt.Fprintf(out, "Featured images: %v\n", caps.SupportsFeaturedImage)
			return nil
		},
	}
}
