package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/logging"
	"github.com/thannaske/s3tracker/pkg/report"
	"github.com/thannaske/s3tracker/pkg/tracker"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as an AWS Lambda function",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		logger = logging.NewJSON(cfg.LogLevel, nil)
		return nil
	},
}

var lambdaTrackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record a sample for every S3 notification batch",
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

		lambda.Start(tracker.NewRecorder(s3Client, store, logger).HandleEvent)
		return nil
	},
}

var lambdaPlotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Serve the plot endpoint behind API Gateway",
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

		// No scrape endpoint exists inside a Lambda invocation, so plot metrics are not collected.
		lambda.Start(report.HandleAPIGateway(newReporter(store, s3Client), nil, logger))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
	lambdaCmd.AddCommand(lambdaTrackCmd, lambdaPlotCmd)
}
