package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/esprusso/photo-library/internal/duplicates"
	"github.com/esprusso/photo-library/internal/startup"

	"github.com/spf13/cobra"
)

func newDuplicatesCmd(flags *rootFlags) *cobra.Command {
	opts := duplicates.DefaultSearchOptions()
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Print clusters of visually similar images",
		Long: `Load stored fingerprints and print clusters of visually similar images,
largest first. Ignored pairs are honoured. Nothing is modified.

Example:
  photo-library duplicates
  photo-library duplicates --threshold 0       # identical fingerprints only
  photo-library duplicates --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Threshold < 0 || opts.PrefixBits < 0 || opts.Limit < 1 {
				return fmt.Errorf("threshold and prefix-bits must not be negative and limit must be positive")
			}
			ctx := cmd.Context()
			db, err := openDatabase(ctx, flags, startup.ReadConfig().DatabaseOptions())
			if err != nil {
				return err
			}
			defer db.Close()

			clusters, err := duplicates.NewService(db).FindClusters(ctx, opts)
			if err != nil {
				return fmt.Errorf("duplicate search failed: %w", err)
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if clusters == nil {
					clusters = []duplicates.ClusterView{}
				}
				return enc.Encode(clusters)
			}
			printClusters(cmd.OutOrStdout(), clusters)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Threshold, "threshold", opts.Threshold, "Maximum Hamming distance to the cluster seed (0 = identical)")
	cmd.Flags().IntVar(&opts.PrefixBits, "prefix-bits", opts.PrefixBits, "Leading fingerprint bits used for bucketing")
	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "Maximum number of fingerprints to load")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print clusters as JSON")
	return cmd
}

func printClusters(w io.Writer, clusters []duplicates.ClusterView) {
	if len(clusters) == 0 {
		fmt.Fprintln(w, "No duplicate clusters found.")
		return
	}

	members := 0
	for i, c := range clusters {
		members += len(c.ImageIDs)
		fmt.Fprintf(w, "Cluster %d (%d images, seed %s)\n", i+1, len(c.ImageIDs), c.Phash)
		for j, img := range c.Images {
			fmt.Fprintf(w, "  [%d] id=%d distance=%d %dx%d %s\n",
				j, img.ID, c.Distances[j], img.Width, img.Height, img.Path)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Clusters: %d\n", len(clusters))
	fmt.Fprintf(w, "Images:   %d\n", members)
}
