package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var since time.Duration

var historyCmd = &cobra.Command{
	Use:   "history [bucket]",
	Short: "List recorded size samples",
	Long:  `Display the size samples recorded for a bucket, oldest first, and its historical high.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bucket := cfg.Bucket
		if len(args) == 1 {
			bucket = args[0]
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		usages, err := store.GetBucketUsage(ctx, bucket, now.Add(-since), now)
		if err != nil {
			return fmt.Errorf("error retrieving samples: %w", err)
		}
		top, err := store.GetMaxBucketUsage(ctx, bucket)
		if err != nil {
			return fmt.Errorf("error retrieving historical high: %w", err)
		}

		if len(usages) == 0 {
			fmt.Printf("No samples for bucket %s in the last %s\n", bucket, since)
		} else {
			fmt.Printf("Size history for bucket %s (last %s)\n\n", bucket, since)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "Time\tSize\tBytes\tObjects")
			fmt.Fprintln(w, "----\t----\t-----\t-------")
			for _, u := range usages {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
					u.Timestamp.Local().Format("2006-01-02 15:04:05.000"),
					humanize.IBytes(uint64(u.SizeBytes)),
					u.SizeBytes,
					u.ObjectCount)
			}
			w.Flush()
		}

		if top != nil {
			fmt.Printf("\nHistorical high: %s (%d bytes) at %s, %s\n",
				humanize.IBytes(uint64(top.SizeBytes)),
				top.SizeBytes,
				top.Timestamp.Local().Format(time.RFC3339),
				humanize.Time(top.Timestamp))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to list samples")
}
