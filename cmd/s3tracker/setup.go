package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/awsx"
	"github.com/thannaske/s3tracker/pkg/db"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the tracked bucket and the sample store",
	Long: `Create the tracked bucket and the sample table (or SQLite schema).
Resources that already exist are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s3Client, err := newS3Client(ctx)
		if err != nil {
			return err
		}
		res, err := s3Client.CreateBucket(ctx, cfg.Bucket)
		if err != nil {
			return err
		}
		fmt.Printf("Bucket %s: %s\n", cfg.Bucket, res)

		if cfg.Store == db.BackendSQLite {
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("SQLite database %s: ready\n", cfg.DBPath)
			return nil
		}

		awsCfg, err := awsx.LoadAWSConfig(ctx, awsx.FromConfig(cfg)...)
		if err != nil {
			return fmt.Errorf("failed to load AWS SDK configuration: %w", err)
		}
		fmt.Printf("Creating table %s (this may take a minute)...\n", cfg.Table)
		res, err = db.NewDynamoStoreFromConfig(awsCfg, cfg.Table, cfg.SizeIndex, logger).CreateTable(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Table %s: %s\n", cfg.Table, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
