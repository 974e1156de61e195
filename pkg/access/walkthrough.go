package access

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/thannaske/s3tracker/pkg/provision"
	"go.uber.org/multierr"
)

// Session names used while acting as the roles.
const (
	DevSession        = "DevSession"
	UserSession       = "UserSession"
	DevCleanupSession = "DevCleanupSession"
)

// DefaultPrefix selects the text fixtures when summing as the read-only role.
const DefaultPrefix = "assignment"

// Fixture is a local file uploaded by the broad-access role.
type Fixture struct {
	Name string
	Data []byte
}

// DefaultFixtures are two 19 byte text files and one binary-ish file outside the prefix.
func DefaultFixtures() []Fixture {
	return []Fixture{
		{Name: "assignment1.txt", Data: []byte("Empty Assignment 1\n")},
		{Name: "assignment2.txt", Data: []byte("Empty Assignment 2\n")},
		{Name: "recording1.jpg", Data: []byte("dummy_image_data")},
	}
}

// Summary reports what a walkthrough run did.
type Summary struct {
	AccountID   string
	Principals  []provision.Outcome
	Bucket      provision.Result
	Objects     []models.ObjectInfo
	PrefixTotal int64
}

// Walkthrough creates the roles and user, uploads fixtures as the broad-access role,
// sums a prefix as the read-only role and tears everything down again.
type Walkthrough struct {
	Manager      *Manager
	Clients      ClientFactory
	Bucket       string
	DevPolicyARN string
	Prefix       string
	Fixtures     []Fixture
	Logger       zerolog.Logger
}

func writeFixtures(dir string, fixtures []Fixture) ([]string, error) {
	paths := make([]string, 0, len(fixtures))
	for _, f := range fixtures {
		p := filepath.Join(dir, f.Name)
		if err := os.WriteFile(p, f.Data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write fixture %s: %w", f.Name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Run executes the walkthrough. Teardown always runs once setup has started and its
// errors are combined with the first setup error.
func (w *Walkthrough) Run(ctx context.Context) (*Summary, error) {
	prefix := w.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	devPolicyARN := w.DevPolicyARN
	if devPolicyARN == "" {
		devPolicyARN = DefaultDevPolicyARN
	}
	fixtures := w.Fixtures
	if fixtures == nil {
		fixtures = DefaultFixtures()
	}

	accountID, err := w.Manager.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{AccountID: accountID}
	names := w.Manager.Names()
	devARN := RoleARN(accountID, names.DevRole)
	userARN := RoleARN(accountID, names.UserRole)

	dir, err := os.MkdirTemp("", "s3tracker-fixtures-")
	if err != nil {
		return nil, fmt.Errorf("failed to create fixture directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			w.Logger.Warn().Err(err).Str("dir", dir).Msg("Could not remove fixtures")
		}
	}()

	bucketTouched := false
	runErr := func() error {
		outcomes, err := w.Manager.EnsureRoles(ctx, accountID, devPolicyARN)
		if err != nil {
			return err
		}
		userResult, err := w.Manager.EnsureUser(ctx)
		if err != nil {
			return err
		}
		summary.Principals = append(outcomes, provision.Outcome{Kind: "user", Name: names.User, Result: userResult})
		if err := w.Manager.GrantAssume(ctx, accountID); err != nil {
			return err
		}

		paths, err := writeFixtures(dir, fixtures)
		if err != nil {
			return err
		}

		dev, err := w.Clients.ForRole(ctx, devARN, DevSession)
		if err != nil {
			return err
		}
		bucketTouched = true
		if summary.Bucket, err = dev.CreateBucket(ctx, w.Bucket); err != nil {
			return err
		}
		for i, p := range paths {
			if err := dev.UploadFile(ctx, w.Bucket, fixtures[i].Name, p); err != nil {
				return err
			}
		}
		w.Logger.Info().Str("bucket", w.Bucket).Int("objects", len(paths)).Msg("Fixtures uploaded")

		reader, err := w.Clients.ForRole(ctx, userARN, UserSession)
		if err != nil {
			return err
		}
		objects, total, err := reader.SumPrefix(ctx, w.Bucket, prefix)
		if err != nil {
			return err
		}
		for _, o := range objects {
			w.Logger.Info().Str("key", o.Key).Int64("size", o.SizeBytes).Msg("Found object")
		}
		w.Logger.Info().Str("prefix", prefix).Int64("total", total).Msg("Summed prefix")
		summary.Objects, summary.PrefixTotal = objects, total
		return nil
	}()
	if runErr != nil {
		w.Logger.Error().Err(runErr).Msg("Walkthrough failed, tearing down")
	}

	var bucketErr error
	if bucketTouched {
		bucketErr = w.removeBucket(ctx, devARN)
	}
	iamErr := w.Manager.Cleanup(ctx, devPolicyARN)

	return summary, multierr.Combine(runErr, bucketErr, iamErr)
}

func (w *Walkthrough) removeBucket(ctx context.Context, devARN string) error {
	dev, err := w.Clients.ForRole(ctx, devARN, DevCleanupSession)
	if err == nil {
		err = dev.DeleteBucket(ctx, w.Bucket)
	}
	if err != nil {
		w.Logger.Error().Err(err).Str("bucket", w.Bucket).Msg("Could not clean up bucket")
		return err
	}
	w.Logger.Info().Str("bucket", w.Bucket).Msg("Bucket removed")
	return nil
}
