// Package transfertest provides an in-memory Transfer Family API for tests.
package transfertest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/transfer"
	"github.com/aws/aws-sdk-go/service/transfer/transferiface"
)

// Fake implements the subset of transferiface.TransferAPI used by the
// transfer client. Calling any other method panics.
type Fake struct {
	transferiface.TransferAPI

	mu    sync.Mutex
	users map[string]*transfer.DescribedUser
	keyN  int

	// CreateErrs are returned by successive CreateUser calls before any succeeds.
	CreateErrs []error
	// ImportErr, when set, fails every ImportSshPublicKey call.
	ImportErr error
	// DescribeErr, when set, fails every DescribeUser call.
	DescribeErr error
	// UpdateErrs are returned by successive UpdateUser calls before any succeeds.
	UpdateErrs []error

	Created []*transfer.CreateUserInput
	Updated []*transfer.UpdateUserInput
	Deleted []string
}

func New() *Fake {
	return &Fake{users: map[string]*transfer.DescribedUser{}}
}

// Put seeds a user.
func (f *Fake) Put(u *transfer.DescribedUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[aws.StringValue(u.UserName)] = u
}

// Has reports whether username exists.
func (f *Fake) Has(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[username]
	return ok
}

// User returns the stored user record.
func (f *Fake) User(username string) *transfer.DescribedUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[username]
}

func notFound(username string) error {
	return awserr.New(transfer.ErrCodeResourceNotFoundException, fmt.Sprintf("Unknown user %s", username), nil)
}

func (f *Fake) CreateUserWithContext(_ aws.Context, in *transfer.CreateUserInput, _ ...request.Option) (*transfer.CreateUserOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, in)
	if len(f.CreateErrs) > 0 {
		err := f.CreateErrs[0]
		f.CreateErrs = f.CreateErrs[1:]
		return nil, err
	}
	name := aws.StringValue(in.UserName)
	if _, ok := f.users[name]; ok {
		return nil, awserr.New(transfer.ErrCodeResourceExistsException, "User already exists", nil)
	}
	f.users[name] = &transfer.DescribedUser{
		UserName:      in.UserName,
		HomeDirectory: in.HomeDirectory,
		Role:          in.Role,
		Policy:        in.Policy,
		Tags:          in.Tags,
	}
	return &transfer.CreateUserOutput{ServerId: in.ServerId, UserName: in.UserName}, nil
}

func (f *Fake) DescribeUserWithContext(_ aws.Context, in *transfer.DescribeUserInput, _ ...request.Option) (*transfer.DescribeUserOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	u, ok := f.users[aws.StringValue(in.UserName)]
	if !ok {
		return nil, notFound(aws.StringValue(in.UserName))
	}
	return &transfer.DescribeUserOutput{ServerId: in.ServerId, User: u}, nil
}

func (f *Fake) ListUsersPagesWithContext(_ aws.Context, in *transfer.ListUsersInput, fn func(*transfer.ListUsersOutput, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	names := make([]string, 0, len(f.users))
	for n := range f.users {
		names = append(names, n)
	}
	f.mu.Unlock()
	sort.Strings(names)

	// Two users per page to exercise pagination.
	for i := 0; i < len(names) || i == 0; i += 2 {
		end := i + 2
		if end > len(names) {
			end = len(names)
		}
		page := &transfer.ListUsersOutput{ServerId: in.ServerId}
		for _, n := range names[i:end] {
			page.Users = append(page.Users, &transfer.ListedUser{UserName: aws.String(n)})
		}
		if !fn(page, end >= len(names)) {
			return nil
		}
		if end >= len(names) {
			break
		}
	}
	return nil
}

func (f *Fake) UpdateUserWithContext(_ aws.Context, in *transfer.UpdateUserInput, _ ...request.Option) (*transfer.UpdateUserOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[aws.StringValue(in.UserName)]
	if !ok {
		return nil, notFound(aws.StringValue(in.UserName))
	}
	if len(f.UpdateErrs) > 0 {
		err := f.UpdateErrs[0]
		f.UpdateErrs = f.UpdateErrs[1:]
		return nil, err
	}
	f.Updated = append(f.Updated, in)
	if in.Policy != nil {
		u.Policy = in.Policy
	}
	return &transfer.UpdateUserOutput{ServerId: in.ServerId, UserName: in.UserName}, nil
}

func (f *Fake) DeleteUserWithContext(_ aws.Context, in *transfer.DeleteUserInput, _ ...request.Option) (*transfer.DeleteUserOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.StringValue(in.UserName)
	if _, ok := f.users[name]; !ok {
		return nil, notFound(name)
	}
	delete(f.users, name)
	f.Deleted = append(f.Deleted, name)
	return &transfer.DeleteUserOutput{}, nil
}

func (f *Fake) ImportSshPublicKeyWithContext(_ aws.Context, in *transfer.ImportSshPublicKeyInput, _ ...request.Option) (*transfer.ImportSshPublicKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ImportErr != nil {
		return nil, f.ImportErr
	}
	u, ok := f.users[aws.StringValue(in.UserName)]
	if !ok {
		return nil, notFound(aws.StringValue(in.UserName))
	}
	f.keyN++
	id := fmt.Sprintf("key-%04d", f.keyN)
	u.SshPublicKeys = append(u.SshPublicKeys, &transfer.SshPublicKey{
		SshPublicKeyBody: in.SshPublicKeyBody,
		SshPublicKeyId:   aws.String(id),
	})
	return &transfer.ImportSshPublicKeyOutput{ServerId: in.ServerId, UserName: in.UserName, SshPublicKeyId: aws.String(id)}, nil
}

func (f *Fake) DeleteSshPublicKeyWithContext(_ aws.Context, in *transfer.DeleteSshPublicKeyInput, _ ...request.Option) (*transfer.DeleteSshPublicKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[aws.StringValue(in.UserName)]
	if !ok {
		return nil, notFound(aws.StringValue(in.UserName))
	}
	for i, k := range u.SshPublicKeys {
		if aws.StringValue(k.SshPublicKeyId) == aws.StringValue(in.SshPublicKeyId) {
			u.SshPublicKeys = append(u.SshPublicKeys[:i], u.SshPublicKeys[i+1:]...)
			return &transfer.DeleteSshPublicKeyOutput{}, nil
		}
	}
	return nil, awserr.New(transfer.ErrCodeResourceNotFoundException, "Unknown key", nil)
}
