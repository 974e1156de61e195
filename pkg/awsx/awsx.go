// Package awsx loads AWS SDK v2 configuration for every service client in s3tracker.
package awsx

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/thannaske/s3tracker/pkg/models"
)

// options holds optional overrides for AWS config loading.
type options struct {
	profile  string
	region   string
	endpoint string
	creds    aws.CredentialsProvider
}

// Option customizes how AWS config is loaded.
// Without options the shell environment and the shared config chain are inherited
// (AWS_PROFILE, ~/.aws/config, ~/.aws/credentials, IMDS, etc.).
type Option func(*options)

// WithProfile sets the shared config profile.
func WithProfile(profile string) Option {
	return func(o *options) { o.profile = profile }
}

// WithRegion sets the region override.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithEndpoint points every service client at a custom base endpoint, e.g. LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithCredentials pins a fixed key/secret/session-token triple, typically the
// temporary credentials returned by an assumed role.
func WithCredentials(c aws.Credentials) Option {
	return func(o *options) {
		o.creds = credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	}
}

// FromConfig maps the application configuration onto load options.
func FromConfig(cfg models.Config) []Option {
	return []Option{WithRegion(cfg.Region), WithEndpoint(cfg.Endpoint)}
}

// LoadAWSConfig loads AWS SDK v2 config with the given overrides applied.
func LoadAWSConfig(ctx context.Context, opts ...Option) (aws.Config, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(o.profile))
	}
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	if o.endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(o.endpoint))
	}
	if o.creds != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(o.creds))
	}

	return config.LoadDefaultConfig(ctx, loadOpts...)
}
