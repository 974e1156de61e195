package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/tracker"
)

var collectAll bool

var collectCmd = &cobra.Command{
	Use:   "collect [bucket...]",
	Short: "Record the current size of buckets",
	Long: `Record one size sample for each named bucket, for every bucket with --all,
or for the configured bucket when none is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		s3Client, err := newS3Client(ctx)
		if err != nil {
			return err
		}

		buckets := args
		switch {
		case collectAll:
			if buckets, err = s3Client.GetBuckets(ctx); err != nil {
				return err
			}
		case len(buckets) == 0:
			buckets = []string{cfg.Bucket}
		}

		recorder := tracker.NewRecorder(s3Client, store, logger)
		fmt.Println("Collecting bucket size data...")
		failed := 0
		for _, bucket := range buckets {
			usage, err := recorder.Record(ctx, bucket)
			if err != nil {
				fmt.Printf("Error collecting size for bucket %s: %v\n", bucket, err)
				failed++
				continue
			}
			fmt.Printf("Stored sample for bucket %s: %d bytes, %d objects\n",
				usage.BucketName, usage.SizeBytes, usage.ObjectCount)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d buckets could not be recorded", failed, len(buckets))
		}
		fmt.Println("Collection completed successfully.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().BoolVar(&collectAll, "all", false, "record every bucket visible to the credentials")
}
