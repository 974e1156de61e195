package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/awsx"
	"github.com/thannaske/s3tracker/pkg/models"
)

// Store backends
const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Store persists bucket size samples keyed by bucket name and ordered by timestamp.
// Samples are insert-only.
type Store interface {
	// StoreBucketUsage appends one sample.
	StoreBucketUsage(ctx context.Context, usage models.BucketUsage) error
	// GetBucketUsage returns the samples of a bucket with start <= ts <= end, oldest first.
	GetBucketUsage(ctx context.Context, bucketName string, start, end time.Time) ([]models.BucketUsage, error)
	// GetMaxBucketUsage returns the largest sample ever recorded for a bucket, or nil.
	GetMaxBucketUsage(ctx context.Context, bucketName string) (*models.BucketUsage, error)
	Close() error
}

// Open connects to the backend selected by cfg.Store.
func Open(ctx context.Context, cfg models.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Store {
	case BackendSQLite:
		database, err := NewDB(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		if err := database.InitDB(); err != nil {
			database.Close()
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		return database, nil
	case BackendDynamoDB, "":
		awsCfg, err := awsx.LoadAWSConfig(ctx, awsx.FromConfig(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS SDK configuration: %w", err)
		}
		return NewDynamoStoreFromConfig(awsCfg, cfg.Table, cfg.SizeIndex, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
