package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/awsx"
	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/thannaske/s3tracker/pkg/provision"
	"github.com/thannaske/s3tracker/pkg/retry"
)

// defaultRegion needs no LocationConstraint when creating buckets.
const defaultRegion = "us-east-1"

// deleteBatchSize is the DeleteObjects limit per request.
const deleteBatchSize = 1000

// ObjectAPI captures the S3 operations s3tracker uses. *s3.Client satisfies it.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// Presigner generates time-limited GET links.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	_ ObjectAPI = (*s3.Client)(nil)
	_ Presigner = (*s3.PresignClient)(nil)
)

// S3Client wraps the S3 API with the bucket operations s3tracker needs
type S3Client struct {
	client    ObjectAPI
	presigner Presigner
	region    string
	retry     retry.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewS3Client creates a new S3 client from the application configuration
func NewS3Client(ctx context.Context, cfg models.Config, logger zerolog.Logger) (*S3Client, error) {
	awsCfg, err := awsx.LoadAWSConfig(ctx, awsx.FromConfig(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK configuration: %w", err)
	}

	policy := retry.Policy{Attempts: cfg.Retry.Attempts, Base: cfg.Retry.Base}
	return NewFromConfig(awsCfg, policy, logger, cfg.Endpoint != ""), nil
}

// NewFromConfig builds a client from an already loaded AWS config. Custom endpoints
// (MinIO, LocalStack) usually need path-style addressing.
func NewFromConfig(awsCfg aws.Config, policy retry.Policy, logger zerolog.Logger, pathStyle bool) *S3Client {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})
	return New(client, s3.NewPresignClient(client), awsCfg.Region, policy, logger)
}

// New wires an S3Client around any ObjectAPI implementation.
func New(api ObjectAPI, presigner Presigner, region string, policy retry.Policy, logger zerolog.Logger) *S3Client {
	if region == "" {
		region = defaultRegion
	}
	return &S3Client{
		client:    api,
		presigner: presigner,
		region:    region,
		retry:     policy,
		logger:    logger,
		now:       time.Now,
	}
}

// Region returns the region the client was built for.
func (c *S3Client) Region() string {
	return c.region
}

// sumObjects walks every page of a listing and adds up sizes.
func (c *S3Client) sumObjects(ctx context.Context, input *s3.ListObjectsV2Input, keep bool) ([]models.ObjectInfo, int64, int64, error) {
	var (
		objects []models.ObjectInfo
		size    int64
		count   int64
	)

	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, 0, 0, err
		}
		for _, obj := range page.Contents {
			count++
			size += aws.ToInt64(obj.Size)
			if keep {
				objects = append(objects, models.ObjectInfo{
					Key:       aws.ToString(obj.Key),
					SizeBytes: aws.ToInt64(obj.Size),
				})
			}
		}
	}

	return objects, size, count, nil
}

// GetBucketUsage lists every object in the bucket and returns the total size and
// object count. The whole listing is retried with linear backoff on failure; a
// missing bucket fails immediately.
func (c *S3Client) GetBucketUsage(ctx context.Context, bucketName string) (*models.BucketUsage, error) {
	var size, count int64

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		_, size, count, err = c.sumObjects(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)}, false)
		if err != nil {
			var nsb *types.NoSuchBucket
			if errors.As(err, &nsb) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		c.logger.Warn().Err(err).
			Str("bucket", bucketName).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Listing bucket failed, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", bucketName, err)
	}

	return &models.BucketUsage{
		BucketName:  bucketName,
		SizeBytes:   size,
		ObjectCount: count,
		Timestamp:   c.now().UTC().Truncate(time.Millisecond),
	}, nil
}

// GetBuckets retrieves the names of all buckets visible to the caller
func (c *S3Client) GetBuckets(ctx context.Context) ([]string, error) {
	out, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

// GetAllBucketsUsage retrieves usage statistics for all buckets
func (c *S3Client) GetAllBucketsUsage(ctx context.Context) ([]models.BucketUsage, error) {
	buckets, err := c.GetBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var usages []models.BucketUsage
	for _, bucketName := range buckets {
		c.logger.Debug().Str("bucket", bucketName).Msg("Collecting statistics")
		usage, err := c.GetBucketUsage(ctx, bucketName)
		if err != nil {
			// Log error but continue with other buckets
			c.logger.Error().Err(err).Str("bucket", bucketName).Msg("Error getting usage")
			continue
		}
		usages = append(usages, *usage)
	}

	return usages, nil
}

// SumPrefix lists the objects whose key starts with prefix and returns them with
// their total size. It is not retried.
func (c *S3Client) SumPrefix(ctx context.Context, bucketName, prefix string) ([]models.ObjectInfo, int64, error) {
	objects, size, _, err := c.sumObjects(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
		Prefix: aws.String(prefix),
	}, true)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s/%s*: %w", bucketName, prefix, err)
	}
	return objects, size, nil
}

// CreateBucket creates the bucket in the client's region. A bucket the caller can
// already reach is reported as AlreadyExisted. HeadBucket runs first because us-east-1
// answers a repeated create of an owned bucket with 200 instead of BucketAlreadyOwnedByYou.
// A name taken by another account (BucketAlreadyExists) is an error.
func (c *S3Client) CreateBucket(ctx context.Context, bucketName string) (provision.Result, error) {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucketName)}); err == nil {
		c.logger.Info().Str("bucket", bucketName).Msg("Bucket already exists")
		return provision.AlreadyExisted, nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucketName)}
	if c.region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}

	if _, err := c.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return provision.AlreadyExisted, nil
		}
		return provision.Created, fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}
	return provision.Created, nil
}

// PutObject writes body under key.
func (c *S3Client) PutObject(ctx context.Context, bucketName, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucketName, key, err)
	}
	return nil
}

// UploadFile streams a local file to key.
func (c *S3Client) UploadFile(ctx context.Context, bucketName, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s/%s: %w", path, bucketName, key, err)
	}
	return nil
}

// DeleteObject removes key from the bucket.
func (c *S3Client) DeleteObject(ctx context.Context, bucketName, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucketName, key, err)
	}
	return nil
}

// DeleteBucket empties the bucket and then deletes it.
func (c *S3Client) DeleteBucket(ctx context.Context, bucketName string) error {
	objects, _, _, err := c.sumObjects(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)}, true)
	if err != nil {
		return fmt.Errorf("failed to list %s for deletion: %w", bucketName, err)
	}

	for start := 0; start < len(objects); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(objects))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(obj.Key)})
		}

		out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucketName),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in %s: %w", bucketName, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects in %s, first %s: %s",
				len(out.Errors), bucketName, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}

	if _, err := c.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", bucketName, err)
	}
	return nil
}

// PresignGet returns a GET link for key valid for ttl.
func (c *S3Client) PresignGet(ctx context.Context, bucketName, key string, ttl time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s/%s: %w", bucketName, key, err)
	}
	return req.URL, nil
}
