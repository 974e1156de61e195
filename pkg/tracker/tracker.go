// Package tracker records one bucket size sample per storage mutation.
package tracker

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/models"
)

// Statuses reported by HandleEvent
const (
	StatusOK        = "ok"
	StatusNoRecords = "no_records"
)

// UsageSource aggregates the current size and object count of a bucket.
type UsageSource interface {
	GetBucketUsage(ctx context.Context, bucketName string) (*models.BucketUsage, error)
}

// SampleWriter appends samples.
type SampleWriter interface {
	StoreBucketUsage(ctx context.Context, usage models.BucketUsage) error
}

// Result is returned to the event trigger.
type Result struct {
	Status string              `json:"status"`
	Item   *models.BucketUsage `json:"item,omitempty"`
}

// Recorder turns mutation notifications into stored samples.
type Recorder struct {
	usage  UsageSource
	store  SampleWriter
	logger zerolog.Logger
}

func NewRecorder(usage UsageSource, store SampleWriter, logger zerolog.Logger) *Recorder {
	return &Recorder{usage: usage, store: store, logger: logger}
}

// Record aggregates the bucket and appends one sample. Samples are never merged.
func (r *Recorder) Record(ctx context.Context, bucketName string) (models.BucketUsage, error) {
	usage, err := r.usage.GetBucketUsage(ctx, bucketName)
	if err != nil {
		return models.BucketUsage{}, err
	}

	if err := r.store.StoreBucketUsage(ctx, *usage); err != nil {
		return models.BucketUsage{}, fmt.Errorf("failed to store sample for %s: %w", bucketName, err)
	}

	r.logger.Info().
		Str("bucket", usage.BucketName).
		Int64("ts", usage.TimestampMillis()).
		Int64("size", usage.SizeBytes).
		Int64("object_count", usage.ObjectCount).
		Msg("Recorded bucket size")
	return *usage, nil
}

// HandleEvent records a sample for the bucket named by the first record of the batch.
// Errors are returned so the trigger source can retry under its own policy.
func (r *Recorder) HandleEvent(ctx context.Context, event events.S3Event) (Result, error) {
	if len(event.Records) == 0 {
		return Result{Status: StatusNoRecords}, nil
	}

	bucketName := event.Records[0].S3.Bucket.Name
	if bucketName == "" {
		return Result{}, fmt.Errorf("event record %s carries no bucket name", event.Records[0].EventName)
	}

	usage, err := r.Record(ctx, bucketName)
	if err != nil {
		r.logger.Error().Stack().Err(errors.WithStack(err)).
			Str("bucket", bucketName).
			Str("event", event.Records[0].EventName).
			Msg("Error in size tracking")
		return Result{}, err
	}
	return Result{Status: StatusOK, Item: &usage}, nil
}
