package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/report"
)

var plotBucket string

func newReporter(store report.SampleReader, objects report.ObjectPublisher) *report.Reporter {
	return report.NewReporter(store, objects, report.Options{
		Bucket:    cfg.Bucket,
		Window:    cfg.Window,
		URLExpiry: cfg.URLExpiry,
	}, logger)
}

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Chart the recent size history and publish it",
	Long: `Render the samples of the configured window as a PNG chart, upload it to the
configured bucket and print a presigned link to it.`,
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

		res, err := newReporter(store, s3Client).Report(ctx, plotBucket)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(plotCmd)
	plotCmd.Flags().StringVar(&plotBucket, "for", "", "bucket to chart (default is the configured bucket)")
}
