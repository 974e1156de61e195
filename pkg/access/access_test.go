package access

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3tracker/pkg/awsx"
	"github.com/thannaske/s3tracker/pkg/provision"
	"github.com/thannaske/s3tracker/pkg/retry"
	"github.com/thannaske/s3tracker/pkg/storage"
	"github.com/thannaske/s3tracker/pkg/storage/storagetest"
)

const (
	testAccount = "123456789012"
	testBucket  = "s3tracker-walkthrough-test"
)

var fastRetry = retry.Policy{Attempts: 3, Base: time.Millisecond}

func newTestManager() (*Manager, *fakeIAM, *fakeSTS) {
	i := newFakeIAM()
	s := &fakeSTS{account: testAccount, iam: i}
	return NewManager(i, s, DefaultNames(), fastRetry, zerolog.Nop()), i, s
}

func TestPolicyDocuments(t *testing.T) {
	trust, err := AccountRootTrust(testAccount).JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": "arn:aws:iam::123456789012:root"},
			"Action": ["sts:AssumeRole"]
		}]
	}`, trust)

	var doc PolicyDocument
	raw, err := AssumeRolesPolicy(RoleARN(testAccount, "Dev"), RoleARN(testAccount, "User")).JSON()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, []string{"arn:aws:iam::123456789012:role/Dev", "arn:aws:iam::123456789012:role/User"}, doc.Statement[0].Resource)

	assert.ElementsMatch(t, []string{"s3:ListAllMyBuckets", "s3:ListBucket", "s3:GetObject"}, ListAndGetPolicy().Statement[0].Action)
}

func TestEnsureRolesIsIdempotent(t *testing.T) {
	m, fake, _ := newTestManager()
	ctx := context.Background()

	first, err := m.EnsureRoles(ctx, testAccount, DefaultDevPolicyARN)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, provision.Created, first[0].Result)
	assert.Equal(t, provision.Created, first[1].Result)

	second, err := m.EnsureRoles(ctx, testAccount, DefaultDevPolicyARN)
	require.NoError(t, err)
	assert.Equal(t, provision.AlreadyExisted, second[0].Result)
	assert.Equal(t, provision.AlreadyExisted, second[1].Result)

	assert.True(t, fake.roles["Dev"].attached[DefaultDevPolicyARN])
	assert.Contains(t, fake.roles["User"].inline, ListAndGetPolicyName)
	assert.Contains(t, fake.roles["Dev"].trust, "arn:aws:iam::123456789012:root")
}

func TestEnsureUserAndGrantAssume(t *testing.T) {
	m, fake, _ := newTestManager()
	ctx := context.Background()

	res, err := m.EnsureUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, provision.Created, res)
	res, err = m.EnsureUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, provision.AlreadyExisted, res)

	require.NoError(t, m.GrantAssume(ctx, testAccount))
	doc := fake.users[DefaultNames().User].inline[AssumeRolesPolicyName]
	assert.Contains(t, doc, "arn:aws:iam::123456789012:role/Dev")
	assert.Contains(t, doc, "arn:aws:iam::123456789012:role/User")
}

func TestAccountID(t *testing.T) {
	m, _, _ := newTestManager()

	id, err := m.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAccount, id)
}

func TestAssumeRetriesWhileRolePropagates(t *testing.T) {
	m, _, s := newTestManager()
	ctx := context.Background()
	_, err := m.EnsureRoles(ctx, testAccount, DefaultDevPolicyARN)
	require.NoError(t, err)
	s.deniedAttempts = 2

	creds, err := m.Assume(ctx, RoleARN(testAccount, "Dev"), DevSession)
	require.NoError(t, err)
	assert.Equal(t, "ASIADEVSESSION", creds.AccessKeyID)
	assert.Equal(t, "token-DevSession", creds.SessionToken)
	assert.True(t, creds.CanExpire)
}

func TestAssumeUnknownRoleFailsFast(t *testing.T) {
	m, _, s := newTestManager()

	_, err := m.Assume(context.Background(), RoleARN(testAccount, "Missing"), DevSession)
	require.Error(t, err)
	assert.Empty(t, s.sessions)
}

func TestCleanupWithNothingToRemove(t *testing.T) {
	m, fake, _ := newTestManager()

	assert.NoError(t, m.Cleanup(context.Background(), DefaultDevPolicyARN))
	assert.True(t, fake.empty())
}

func TestCleanupContinuesAfterFailure(t *testing.T) {
	m, fake, _ := newTestManager()
	ctx := context.Background()
	_, err := m.EnsureRoles(ctx, testAccount, DefaultDevPolicyARN)
	require.NoError(t, err)
	_, err = m.EnsureUser(ctx)
	require.NoError(t, err)
	require.NoError(t, m.GrantAssume(ctx, testAccount))
	fake.failDeleteRole = "Dev"

	err = m.Cleanup(ctx, DefaultDevPolicyARN)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete role Dev")

	assert.Contains(t, fake.roles, "Dev")
	assert.NotContains(t, fake.roles, "User")
	assert.Empty(t, fake.users)
}

type staticAssumer struct{}

func (staticAssumer) Assume(context.Context, string, string) (aws.Credentials, error) {
	return aws.Credentials{AccessKeyID: "ASIATEST", SecretAccessKey: "secret", SessionToken: "token"}, nil
}

func TestScopedClientFactory(t *testing.T) {
	f := NewScopedClientFactory(staticAssumer{}, fastRetry, false, zerolog.Nop(), awsx.WithRegion("eu-central-1"))

	client, err := f.ForRole(context.Background(), RoleARN(testAccount, "User"), UserSession)
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", client.Region())
}

// fakeClients assumes the role through the manager, so sessions are recorded, and
// hands back a client over the shared in-memory store.
func fakeClients(m *Manager, s3 *storagetest.Fake, failSession string) ClientFactory {
	return ClientFactoryFunc(func(ctx context.Context, roleARN, session string) (*storage.S3Client, error) {
		if session == failSession {
			return nil, errors.New("assume denied")
		}
		if _, err := m.Assume(ctx, roleARN, session); err != nil {
			return nil, err
		}
		return storage.New(s3, storagetest.Presigner{}, "", fastRetry, zerolog.Nop()), nil
	})
}

func TestWalkthroughRunsTwice(t *testing.T) {
	m, fake, s := newTestManager()
	objects := storagetest.New()
	w := &Walkthrough{Manager: m, Clients: fakeClients(m, objects, ""), Bucket: testBucket, Logger: zerolog.Nop()}

	for run := 0; run < 2; run++ {
		summary, err := w.Run(context.Background())
		require.NoError(t, err, "run %d", run)

		assert.Equal(t, testAccount, summary.AccountID)
		assert.Equal(t, provision.Created, summary.Bucket)
		assert.EqualValues(t, 38, summary.PrefixTotal)
		require.Len(t, summary.Objects, 2)
		for _, o := range summary.Objects {
			assert.Contains(t, []string{"assignment1.txt", "assignment2.txt"}, o.Key)
			assert.EqualValues(t, 19, o.SizeBytes)
		}
		require.Len(t, summary.Principals, 3)

		assert.True(t, fake.empty(), "run %d", run)
		assert.False(t, objects.HasBucket(testBucket), "run %d", run)
	}
	assert.Equal(t, []string{DevSession, UserSession, DevCleanupSession, DevSession, UserSession, DevCleanupSession}, s.sessions)
}

func TestWalkthroughWithExistingPrincipals(t *testing.T) {
	m, fake, _ := newTestManager()
	_, err := m.EnsureRoles(context.Background(), testAccount, DefaultDevPolicyARN)
	require.NoError(t, err)
	w := &Walkthrough{Manager: m, Clients: fakeClients(m, storagetest.New(), ""), Bucket: testBucket, Logger: zerolog.Nop()}

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provision.AlreadyExisted, summary.Principals[0].Result)
	assert.Equal(t, provision.AlreadyExisted, summary.Principals[1].Result)
	assert.Equal(t, provision.Created, summary.Principals[2].Result)
	assert.True(t, fake.empty())
}

func TestWalkthroughTearsDownAfterFailure(t *testing.T) {
	m, fake, _ := newTestManager()
	objects := storagetest.New()
	w := &Walkthrough{Manager: m, Clients: fakeClients(m, objects, UserSession), Bucket: testBucket, Logger: zerolog.Nop()}

	_, err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assume denied")

	assert.True(t, fake.empty())
	assert.False(t, objects.HasBucket(testBucket))
}
