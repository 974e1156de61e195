package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/driver"
)

var (
	drivePause   time.Duration
	drivePlotAPI string
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Replay a fixed sequence of changes on the tracked bucket",
	Long: `Write, overwrite and delete objects in the tracked bucket, pausing between
steps so every change is recorded as its own sample, then call the plot API.
The bucket ends up holding a single 2 byte object.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s3Client, err := newS3Client(ctx)
		if err != nil {
			return err
		}

		plotAPI := drivePlotAPI
		if plotAPI == "" {
			plotAPI = cfg.PlotAPI
		}
		out, err := driver.New(s3Client, driver.Options{
			Bucket:      cfg.Bucket,
			PlotAPI:     plotAPI,
			Pause:       drivePause,
			PlotRetries: cfg.Retry.Attempts - 1,
		}, logger).Run(ctx)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(driveCmd)
	driveCmd.Flags().DurationVar(&drivePause, "pause", driver.DefaultPause, "pause after each step")
	driveCmd.Flags().StringVar(&drivePlotAPI, "plot-api", "", "plot endpoint to call at the end (default is $PLOTTING_API)")
}
