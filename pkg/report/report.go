// Package report renders the recent size history of a bucket and publishes it as a
// time-limited link.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/models"
)

// SampleReader is the read side of the sample store.
type SampleReader interface {
	GetBucketUsage(ctx context.Context, bucketName string, start, end time.Time) ([]models.BucketUsage, error)
	GetMaxBucketUsage(ctx context.Context, bucketName string) (*models.BucketUsage, error)
}

// ObjectPublisher uploads the rendered chart and links to it.
type ObjectPublisher interface {
	PutObject(ctx context.Context, bucketName, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, bucketName, key string, ttl time.Duration) (string, error)
}

// Options configure a Reporter.
type Options struct {
	// Bucket is reported when no bucket is requested and always receives the chart.
	Bucket    string
	Window    time.Duration
	URLExpiry time.Duration
}

// Result is returned to the caller of the plot endpoint.
type Result struct {
	Bucket       string `json:"s3_bucket"`
	Key          string `json:"s3_key"`
	PresignedURL string `json:"presigned_url"`
}

// ErrNoBucket is returned when neither the request nor the options name a bucket.
var ErrNoBucket = errors.New("no bucket to report on")

type Reporter struct {
	samples SampleReader
	objects ObjectPublisher
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

func NewReporter(samples SampleReader, objects ObjectPublisher, opts Options, logger zerolog.Logger) *Reporter {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = time.Hour
	}
	return &Reporter{samples: samples, objects: objects, opts: opts, logger: logger, now: time.Now}
}

// Report charts the last window of samples for bucketName, or the configured bucket
// when bucketName is empty.
func (r *Reporter) Report(ctx context.Context, bucketName string) (*Result, error) {
	if bucketName == "" {
		bucketName = r.opts.Bucket
	}
	if bucketName == "" {
		return nil, ErrNoBucket
	}

	now := r.now()
	from := now.Add(-r.opts.Window)

	samples, err := r.samples.GetBucketUsage(ctx, bucketName, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples for %s: %w", bucketName, err)
	}
	top, err := r.samples.GetMaxBucketUsage(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical high for %s: %w", bucketName, err)
	}
	var maxSize int64
	if top != nil {
		maxSize = top.SizeBytes
	}

	var buf bytes.Buffer
	if err := Render(&buf, ChartInput{Bucket: bucketName, From: from, To: now, Samples: samples, Max: maxSize}); err != nil {
		return nil, err
	}

	target := r.opts.Bucket
	if target == "" {
		target = bucketName
	}
	key := fmt.Sprintf("plot-%d.png", now.Unix())
	if err := r.objects.PutObject(ctx, target, key, buf.Bytes(), "image/png"); err != nil {
		return nil, err
	}
	url, err := r.objects.PresignGet(ctx, target, key, r.opts.URLExpiry)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("bucket", bucketName).
		Int("samples", len(samples)).
		Int64("max", maxSize).
		Str("key", key).
		Msg("Published size chart")
	return &Result{Bucket: target, Key: key, PresignedURL: url}, nil
}
