package access

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/awsx"
	"github.com/thannaske/s3tracker/pkg/retry"
	"github.com/thannaske/s3tracker/pkg/storage"
)

// ClientFactory hands out storage clients acting as a role.
type ClientFactory interface {
	ForRole(ctx context.Context, roleARN, session string) (*storage.S3Client, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, roleARN, session string) (*storage.S3Client, error)

func (f ClientFactoryFunc) ForRole(ctx context.Context, roleARN, session string) (*storage.S3Client, error) {
	return f(ctx, roleARN, session)
}

// Assumer exchanges a role for temporary credentials.
type Assumer interface {
	Assume(ctx context.Context, roleARN, session string) (aws.Credentials, error)
}

// ScopedClientFactory builds storage clients from assumed-role credentials. The
// returned client carries no local permission checks; the role's policies are
// enforced by the service.
type ScopedClientFactory struct {
	assumer   Assumer
	opts      []awsx.Option
	policy    retry.Policy
	pathStyle bool
	logger    zerolog.Logger
}

func NewScopedClientFactory(assumer Assumer, policy retry.Policy, pathStyle bool, logger zerolog.Logger, opts ...awsx.Option) *ScopedClientFactory {
	return &ScopedClientFactory{assumer: assumer, opts: opts, policy: policy, pathStyle: pathStyle, logger: logger}
}

func (f *ScopedClientFactory) ForRole(ctx context.Context, roleARN, session string) (*storage.S3Client, error) {
	creds, err := f.assumer.Assume(ctx, roleARN, session)
	if err != nil {
		return nil, err
	}

	opts := append(append([]awsx.Option(nil), f.opts...), awsx.WithCredentials(creds))
	awsCfg, err := awsx.LoadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK configuration for %s: %w", session, err)
	}
	return storage.NewFromConfig(awsCfg, f.policy, f.logger.With().Str("session", session).Logger(), f.pathStyle), nil
}
