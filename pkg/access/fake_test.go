package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
)

type fakeRole struct {
	trust    string
	attached map[string]bool
	inline   map[string]string
}

type fakeUser struct {
	inline map[string]string
}

// fakeIAM keeps roles and users in memory and refuses to delete principals that still
// carry policies, like the real service.
type fakeIAM struct {
	mu    sync.Mutex
	roles map[string]*fakeRole
	users map[string]*fakeUser
	// failDeleteRole makes DeleteRole fail for the named role.
	failDeleteRole string
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{roles: map[string]*fakeRole{}, users: map[string]*fakeUser{}}
}

func (f *fakeIAM) empty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roles) == 0 && len(f.users) == 0
}

func noSuchEntity(what string) error {
	return &iamtypes.NoSuchEntityException{Message: aws.String(what + " cannot be found")}
}

func deleteConflict(what string) error {
	return &smithy.GenericAPIError{Code: "DeleteConflict", Message: what + " still has policies"}
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, &iamtypes.EntityAlreadyExistsException{Message: aws.String("Role with name " + name + " already exists.")}
	}
	f.roles[name] = &fakeRole{trust: aws.ToString(in.AssumeRolePolicyDocument), attached: map[string]bool{}, inline: map[string]string{}}
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName}}, nil
}

func (f *fakeIAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if name == f.failDeleteRole {
		return nil, &smithy.GenericAPIError{Code: "ServiceFailure", Message: "internal error"}
	}
	r, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity("role " + name)
	}
	if len(r.attached) > 0 || len(r.inline) > 0 {
		return nil, deleteConflict("role " + name)
	}
	delete(f.roles, name)
	return &iam.DeleteRoleOutput{}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, noSuchEntity("role " + aws.ToString(in.RoleName))
	}
	r.attached[aws.ToString(in.PolicyArn)] = true
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok || !r.attached[aws.ToString(in.PolicyArn)] {
		return nil, noSuchEntity("policy " + aws.ToString(in.PolicyArn))
	}
	delete(r.attached, aws.ToString(in.PolicyArn))
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) PutRolePolicy(_ context.Context, in *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, noSuchEntity("role " + aws.ToString(in.RoleName))
	}
	r.inline[aws.ToString(in.PolicyName)] = aws.ToString(in.PolicyDocument)
	return &iam.PutRolePolicyOutput{}, nil
}

func (f *fakeIAM) DeleteRolePolicy(_ context.Context, in *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, noSuchEntity("role " + aws.ToString(in.RoleName))
	}
	if _, ok := r.inline[aws.ToString(in.PolicyName)]; !ok {
		return nil, noSuchEntity("policy " + aws.ToString(in.PolicyName))
	}
	delete(r.inline, aws.ToString(in.PolicyName))
	return &iam.DeleteRolePolicyOutput{}, nil
}

func (f *fakeIAM) CreateUser(_ context.Context, in *iam.CreateUserInput, _ ...func(*iam.Options)) (*iam.CreateUserOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.UserName)
	if _, ok := f.users[name]; ok {
		return nil, &iamtypes.EntityAlreadyExistsException{Message: aws.String("User with name " + name + " already exists.")}
	}
	f.users[name] = &fakeUser{inline: map[string]string{}}
	return &iam.CreateUserOutput{User: &iamtypes.User{UserName: in.UserName}}, nil
}

func (f *fakeIAM) DeleteUser(_ context.Context, in *iam.DeleteUserInput, _ ...func(*iam.Options)) (*iam.DeleteUserOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.UserName)
	u, ok := f.users[name]
	if !ok {
		return nil, noSuchEntity("user " + name)
	}
	if len(u.inline) > 0 {
		return nil, deleteConflict("user " + name)
	}
	delete(f.users, name)
	return &iam.DeleteUserOutput{}, nil
}

func (f *fakeIAM) PutUserPolicy(_ context.Context, in *iam.PutUserPolicyInput, _ ...func(*iam.Options)) (*iam.PutUserPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[aws.ToString(in.UserName)]
	if !ok {
		return nil, noSuchEntity("user " + aws.ToString(in.UserName))
	}
	u.inline[aws.ToString(in.PolicyName)] = aws.ToString(in.PolicyDocument)
	return &iam.PutUserPolicyOutput{}, nil
}

func (f *fakeIAM) DeleteUserPolicy(_ context.Context, in *iam.DeleteUserPolicyInput, _ ...func(*iam.Options)) (*iam.DeleteUserPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[aws.ToString(in.UserName)]
	if !ok {
		return nil, noSuchEntity("user " + aws.ToString(in.UserName))
	}
	if _, ok := u.inline[aws.ToString(in.PolicyName)]; !ok {
		return nil, noSuchEntity("policy " + aws.ToString(in.PolicyName))
	}
	delete(u.inline, aws.ToString(in.PolicyName))
	return &iam.DeleteUserPolicyOutput{}, nil
}

// fakeSTS issues credentials for roles known to the paired fakeIAM. The first
// deniedAttempts calls answer AccessDenied to mimic role propagation.
type fakeSTS struct {
	account        string
	iam            *fakeIAM
	deniedAttempts int
	sessions       []string
}

func (f *fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

func (f *fakeSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	if f.deniedAttempts > 0 {
		f.deniedAttempts--
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform sts:AssumeRole"}
	}

	arn := aws.ToString(in.RoleArn)
	name := arn[strings.LastIndex(arn, "/")+1:]
	f.iam.mu.Lock()
	_, ok := f.iam.roles[name]
	f.iam.mu.Unlock()
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchEntity", Message: "role " + name + " does not exist"}
	}

	session := aws.ToString(in.RoleSessionName)
	f.sessions = append(f.sessions, session)
	return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("ASIA" + strings.ToUpper(session)),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("token-" + session),
		Expiration:      aws.Time(time.Now().Add(time.Hour)),
	}}, nil
}
