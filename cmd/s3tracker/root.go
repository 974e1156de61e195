package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thannaske/s3tracker/pkg/config"
	"github.com/thannaske/s3tracker/pkg/db"
	"github.com/thannaske/s3tracker/pkg/logging"
	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/thannaske/s3tracker/pkg/retry"
	"github.com/thannaske/s3tracker/pkg/storage"
)

var (
	cfgFile string
	debug   bool
	v       = viper.New()
	cfg     models.Config
	logger  = zerolog.Nop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "s3tracker",
	Short: "S3 bucket size tracker",
	Long: `A CLI tool to record the size of S3 buckets every time they change.
Samples are kept in DynamoDB (or a local SQLite database) and can be listed,
charted and published as time-limited links.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.BindEnv(v); err != nil {
			return err
		}
		if err := config.ReadFile(v, cfgFile); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded
		if debug {
			cfg.LogLevel = "debug"
		}
		logger = logging.New(cfg.LogLevel, os.Stderr)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(v)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.s3tracker/s3tracker.yaml)")
	flags.String("region", config.DefaultRegion, "AWS region")
	flags.String("endpoint", "", "custom S3/DynamoDB endpoint URL, e.g. LocalStack")
	flags.String("bucket", config.DefaultBucket, "bucket to track and to publish charts to")
	flags.String("table", config.DefaultTable, "DynamoDB table holding the samples")
	flags.String("size-index", config.DefaultSizeIndex, "secondary index ordering samples by size")
	flags.String("store", config.DefaultStore, "sample store: dynamodb or sqlite")
	flags.String("db", config.DefaultDBPath(), "SQLite database path")
	flags.String("log-level", "info", "log level")
	flags.BoolVarP(&debug, "debug", "d", false, "enables debug logging, overrides --log-level")

	for key, flag := range map[string]string{
		"region":     "region",
		"endpoint":   "endpoint",
		"bucket":     "bucket",
		"table":      "table",
		"size_index": "size-index",
		"store":      "store",
		"db_path":    "db",
		"log_level":  "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func retryPolicy() retry.Policy {
	return retry.Policy{Attempts: cfg.Retry.Attempts, Base: cfg.Retry.Base}
}

func openStore(ctx context.Context) (db.Store, error) {
	store, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	return store, nil
}

func newS3Client(ctx context.Context) (*storage.S3Client, error) {
	client, err := storage.NewS3Client(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	return client, nil
}
