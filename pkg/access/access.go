// Package access provisions the roles and the user of the access walkthrough and hands
// out storage clients bound to temporary role credentials.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/provision"
	"github.com/thannaske/s3tracker/pkg/retry"
	"go.uber.org/multierr"
)

// DefaultDevPolicyARN is attached to the broad-access role unless overridden.
const DefaultDevPolicyARN = "arn:aws:iam::aws:policy/AmazonS3FullAccess"

// Inline policy names
const (
	ListAndGetPolicyName  = "S3ListAndGet"
	AssumeRolesPolicyName = "AllowAssumeDevUserRoles"
)

// IAMAPI captures the identity management calls used here. *iam.Client satisfies it.
type IAMAPI interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	CreateUser(ctx context.Context, params *iam.CreateUserInput, optFns ...func(*iam.Options)) (*iam.CreateUserOutput, error)
	DeleteUser(ctx context.Context, params *iam.DeleteUserInput, optFns ...func(*iam.Options)) (*iam.DeleteUserOutput, error)
	PutUserPolicy(ctx context.Context, params *iam.PutUserPolicyInput, optFns ...func(*iam.Options)) (*iam.PutUserPolicyOutput, error)
	DeleteUserPolicy(ctx context.Context, params *iam.DeleteUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteUserPolicyOutput, error)
}

// STSAPI captures the token service calls used here. *sts.Client satisfies it.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

var (
	_ IAMAPI = (*iam.Client)(nil)
	_ STSAPI = (*sts.Client)(nil)
)

// Names of the principals the walkthrough manages.
type Names struct {
	DevRole  string
	UserRole string
	User     string
}

// DefaultNames returns the principal names used when none are configured.
func DefaultNames() Names {
	return Names{DevRole: "Dev", UserRole: "User", User: "s3tracker-walkthrough-user"}
}

// Manager creates and removes the walkthrough's roles and user.
type Manager struct {
	iam    IAMAPI
	sts    STSAPI
	names  Names
	assume retry.Policy
	logger zerolog.Logger
}

// NewManager wires a Manager. assume controls how long freshly created roles are
// retried while they propagate.
func NewManager(iamAPI IAMAPI, stsAPI STSAPI, names Names, assume retry.Policy, logger zerolog.Logger) *Manager {
	return &Manager{iam: iamAPI, sts: stsAPI, names: names, assume: assume, logger: logger}
}

// NewManagerFromConfig builds a Manager around real IAM and STS clients.
func NewManagerFromConfig(awsCfg aws.Config, names Names, assume retry.Policy, logger zerolog.Logger) *Manager {
	return NewManager(iam.NewFromConfig(awsCfg), sts.NewFromConfig(awsCfg), names, assume, logger)
}

func (m *Manager) Names() Names {
	return m.names
}

// AccountID returns the account of the calling identity.
func (m *Manager) AccountID(ctx context.Context) (string, error) {
	out, err := m.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

func (m *Manager) createRole(ctx context.Context, name string, trust PolicyDocument) (provision.Result, error) {
	doc, err := trust.JSON()
	if err != nil {
		return 0, err
	}

	_, err = m.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(doc),
	})
	var exists *iamtypes.EntityAlreadyExistsException
	switch {
	case errors.As(err, &exists):
		m.logger.Info().Str("role", name).Msg("Role already exists")
		return provision.AlreadyExisted, nil
	case err != nil:
		return 0, fmt.Errorf("failed to create role %s: %w", name, err)
	}
	m.logger.Info().Str("role", name).Msg("Role created")
	return provision.Created, nil
}

// EnsureRoles creates the broad-access role with devPolicyARN attached and the
// read-only role with its inline list/get policy. Policies are re-applied on roles
// that already exist.
func (m *Manager) EnsureRoles(ctx context.Context, accountID, devPolicyARN string) ([]provision.Outcome, error) {
	trust := AccountRootTrust(accountID)

	devResult, err := m.createRole(ctx, m.names.DevRole, trust)
	if err != nil {
		return nil, err
	}
	if _, err := m.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(m.names.DevRole),
		PolicyArn: aws.String(devPolicyARN),
	}); err != nil {
		return nil, fmt.Errorf("failed to attach %s to role %s: %w", devPolicyARN, m.names.DevRole, err)
	}

	userResult, err := m.createRole(ctx, m.names.UserRole, trust)
	if err != nil {
		return nil, err
	}
	doc, err := ListAndGetPolicy().JSON()
	if err != nil {
		return nil, err
	}
	if _, err := m.iam.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(m.names.UserRole),
		PolicyName:     aws.String(ListAndGetPolicyName),
		PolicyDocument: aws.String(doc),
	}); err != nil {
		return nil, fmt.Errorf("failed to put policy %s on role %s: %w", ListAndGetPolicyName, m.names.UserRole, err)
	}

	return []provision.Outcome{
		{Kind: "role", Name: m.names.DevRole, Result: devResult},
		{Kind: "role", Name: m.names.UserRole, Result: userResult},
	}, nil
}

// EnsureUser creates the walkthrough user.
func (m *Manager) EnsureUser(ctx context.Context) (provision.Result, error) {
	_, err := m.iam.CreateUser(ctx, &iam.CreateUserInput{UserName: aws.String(m.names.User)})
	var exists *iamtypes.EntityAlreadyExistsException
	switch {
	case errors.As(err, &exists):
		m.logger.Info().Str("user", m.names.User).Msg("User already exists")
		return provision.AlreadyExisted, nil
	case err != nil:
		return 0, fmt.Errorf("failed to create user %s: %w", m.names.User, err)
	}
	m.logger.Info().Str("user", m.names.User).Msg("User created")
	return provision.Created, nil
}

// GrantAssume lets the walkthrough user assume both roles.
func (m *Manager) GrantAssume(ctx context.Context, accountID string) error {
	doc, err := AssumeRolesPolicy(
		RoleARN(accountID, m.names.DevRole),
		RoleARN(accountID, m.names.UserRole),
	).JSON()
	if err != nil {
		return err
	}

	if _, err := m.iam.PutUserPolicy(ctx, &iam.PutUserPolicyInput{
		UserName:       aws.String(m.names.User),
		PolicyName:     aws.String(AssumeRolesPolicyName),
		PolicyDocument: aws.String(doc),
	}); err != nil {
		return fmt.Errorf("failed to put policy %s on user %s: %w", AssumeRolesPolicyName, m.names.User, err)
	}
	m.logger.Info().Str("user", m.names.User).Str("policy", AssumeRolesPolicyName).Msg("Assume policy attached")
	return nil
}

// Assume returns temporary credentials for roleARN. AccessDenied is retried since new
// roles are not assumable until they propagate.
func (m *Manager) Assume(ctx context.Context, roleARN, session string) (aws.Credentials, error) {
	var out *sts.AssumeRoleOutput
	err := m.assume.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(roleARN),
			RoleSessionName: aws.String(session),
		})
		var apiErr smithy.APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied") {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, attempt int, wait time.Duration) {
		m.logger.Warn().Err(err).Str("role", roleARN).Int("attempt", attempt).Dur("wait", wait).Msg("Role not assumable yet")
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to assume %s: %w", roleARN, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("assuming %s returned no credentials", roleARN)
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "AssumeRole",
	}
	if out.Credentials.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *out.Credentials.Expiration
	}
	m.logger.Info().Str("role", roleARN).Str("session", session).Msg("Role assumed")
	return creds, nil
}

// Cleanup removes the roles and the user in dependency order. Every step runs even
// when an earlier one failed; missing entities count as removed.
func (m *Manager) Cleanup(ctx context.Context, devPolicyARN string) error {
	steps := []struct {
		desc string
		run  func() error
	}{
		{"detach " + devPolicyARN + " from role " + m.names.DevRole, func() error {
			_, err := m.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName: aws.String(m.names.DevRole), PolicyArn: aws.String(devPolicyARN),
			})
			return err
		}},
		{"delete role " + m.names.DevRole, func() error {
			_, err := m.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(m.names.DevRole)})
			return err
		}},
		{"delete policy " + ListAndGetPolicyName + " from role " + m.names.UserRole, func() error {
			_, err := m.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
				RoleName: aws.String(m.names.UserRole), PolicyName: aws.String(ListAndGetPolicyName),
			})
			return err
		}},
		{"delete role " + m.names.UserRole, func() error {
			_, err := m.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(m.names.UserRole)})
			return err
		}},
		{"delete policy " + AssumeRolesPolicyName + " from user " + m.names.User, func() error {
			_, err := m.iam.DeleteUserPolicy(ctx, &iam.DeleteUserPolicyInput{
				UserName: aws.String(m.names.User), PolicyName: aws.String(AssumeRolesPolicyName),
			})
			return err
		}},
		{"delete user " + m.names.User, func() error {
			_, err := m.iam.DeleteUser(ctx, &iam.DeleteUserInput{UserName: aws.String(m.names.User)})
			return err
		}},
	}

	var errs error
	for _, step := range steps {
		err := step.run()
		var missing *iamtypes.NoSuchEntityException
		switch {
		case errors.As(err, &missing):
			m.logger.Info().Str("step", step.desc).Msg("Already removed")
		case err != nil:
			m.logger.Error().Err(err).Str("step", step.desc).Msg("Cleanup step failed")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.desc, err))
		default:
			m.logger.Info().Str("step", step.desc).Msg("Cleanup step done")
		}
	}
	return errs
}
