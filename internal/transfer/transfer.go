// Package transfer manages SFTP users on an AWS Transfer Family server.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/transfer"
	"github.com/aws/aws-sdk-go/service/transfer/transferiface"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/awsutil"
)

// Tag is a remote user tag.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// User is a Transfer Family user with profile fields derived from its tags.
type User struct {
	UserName          string     `json:"UserName"`
	ServerID          string     `json:"ServerId"`
	State             string     `json:"State"`
	HomeDirectory     string     `json:"HomeDirectory"`
	Role              string     `json:"Role"`
	SSHPublicKeyCount int        `json:"SshPublicKeyCount"`
	DateCreated       *time.Time `json:"DateCreated"`
	Tags              []Tag      `json:"Tags"`

	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserRole  string `json:"userRole"`
}

// TagValue returns the value of the first tag named key.
func (u *User) TagValue(key string) string {
	for _, t := range u.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// CreateUserRequest describes a new remote user.
type CreateUserRequest struct {
	Username       string
	Email          string
	FirstName      string
	LastName       string
	Role           string
	HomeDirectory  string
	SSHPublicKey   string
	AllowedFolders []string
	Tags           []Tag
}

// UpdateUserRequest changes a remote user. A nil AllowedFolders leaves the
// policy untouched; tags cannot be changed after creation.
type UpdateUserRequest struct {
	AllowedFolders []string
}

type Options struct {
	ServerID string
	RoleARN  string
	Bucket   string
	Logger   *slog.Logger
}

// Client wraps the Transfer Family control plane for one server.
type Client struct {
	api      transferiface.TransferAPI
	serverID string
	roleARN  string
	bucket   string
	log      *slog.Logger
}

func New(api transferiface.TransferAPI, opt Options) *Client {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{api: api, serverID: opt.ServerID, roleARN: opt.RoleARN, bucket: opt.Bucket, log: log}
}

// ListUsers returns every user on the server, fully described.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var names []string
	err := c.api.ListUsersPagesWithContext(ctx, &transfer.ListUsersInput{ServerId: aws.String(c.serverID)},
		func(page *transfer.ListUsersOutput, _ bool) bool {
			for _, u := range page.Users {
				names = append(names, aws.StringValue(u.UserName))
			}
			return true
		})
	if err != nil {
		return nil, c.remote("list users", err)
	}

	users := make([]User, 0, len(names))
	for _, name := range names {
		u, ok, err := c.GetUser(ctx, name)
		if err != nil {
			return nil, err
		}
		// Deleted between list and describe.
		if !ok {
			continue
		}
		users = append(users, *u)
	}
	c.log.Debug("listed transfer users", "count", len(users))
	return users, nil
}

// GetUser describes username. The boolean is false when the user does not exist.
func (c *Client) GetUser(ctx context.Context, username string) (*User, bool, error) {
	out, err := c.api.DescribeUserWithContext(ctx, &transfer.DescribeUserInput{
		ServerId: aws.String(c.serverID),
		UserName: aws.String(username),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, c.remote("get user", err)
	}
	return fromDescribed(aws.StringValue(out.ServerId), out.User), true, nil
}

// CreateUser creates the user, imports its SSH key when one is given and
// returns the described result.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	home := req.HomeDirectory
	if home == "" {
		home = "/" + c.bucket + "/" + req.Username
	}
	in := &transfer.CreateUserInput{
		ServerId:      aws.String(c.serverID),
		UserName:      aws.String(req.Username),
		Role:          aws.String(c.roleARN),
		HomeDirectory: aws.String(home),
	}
	policy, err := BuildPolicy(c.bucket, req.AllowedFolders)
	if err != nil {
		return nil, err
	}
	if policy != "" {
		in.Policy = aws.String(policy)
	}
	in.Tags = toSDKTags(userTags(req))

	_, err = c.api.CreateUserWithContext(ctx, in)
	if err != nil && strings.Contains(err.Error(), "TagResource") {
		c.log.Warn("creating transfer user without tags due to missing permission", "username", req.Username)
		untagged := *in
		untagged.Tags = nil
		_, err = c.api.CreateUserWithContext(ctx, &untagged)
	}
	if err != nil {
		return nil, c.remote("create user", err)
	}
	c.log.Info("transfer user created", "username", req.Username)

	if key := strings.TrimSpace(req.SSHPublicKey); key != "" {
		if _, err := c.ImportSSHKey(ctx, req.Username, key); err != nil {
			c.log.Warn("failed to add ssh key", "username", req.Username, "err", err)
		}
	}

	u, ok, err := c.GetUser(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("User %s not found", req.Username))
	}
	return u, nil
}

// UpdateUser applies req and returns the described user.
func (c *Client) UpdateUser(ctx context.Context, username string, req UpdateUserRequest) (*User, error) {
	if _, ok, err := c.GetUser(ctx, username); err != nil {
		return nil, err
	} else if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("User %s not found", username))
	}

	if req.AllowedFolders != nil {
		policy, err := BuildPolicy(c.bucket, req.AllowedFolders)
		if err != nil {
			return nil, err
		}
		if policy != "" {
			_, err := c.api.UpdateUserWithContext(ctx, &transfer.UpdateUserInput{
				ServerId: aws.String(c.serverID),
				UserName: aws.String(username),
				Policy:   aws.String(policy),
			})
			if err != nil {
				return nil, c.remote("update user", err)
			}
			c.log.Info("transfer user policy updated", "username", username, "folders", len(req.AllowedFolders))
		}
	}

	u, ok, err := c.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("User %s not found", username))
	}
	return u, nil
}

// DeleteUser removes username from the server.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	_, err := c.api.DeleteUserWithContext(ctx, &transfer.DeleteUserInput{
		ServerId: aws.String(c.serverID),
		UserName: aws.String(username),
	})
	if err != nil {
		if isNotFound(err) {
			return apierr.NotFound(fmt.Sprintf("User %s not found", username))
		}
		return c.remote("delete user", err)
	}
	c.log.Info("transfer user deleted", "username", username)
	return nil
}

// ImportSSHKey adds an SSH public key and returns its key ID.
func (c *Client) ImportSSHKey(ctx context.Context, username, body string) (string, error) {
	out, err := c.api.ImportSshPublicKeyWithContext(ctx, &transfer.ImportSshPublicKeyInput{
		ServerId:         aws.String(c.serverID),
		UserName:         aws.String(username),
		SshPublicKeyBody: aws.String(body),
	})
	if err != nil {
		if isNotFound(err) {
			return "", apierr.NotFound(fmt.Sprintf("User %s not found", username))
		}
		return "", c.remote("import ssh key", err)
	}
	return aws.StringValue(out.SshPublicKeyId), nil
}

// DeleteSSHKey removes one SSH public key from username.
func (c *Client) DeleteSSHKey(ctx context.Context, username, keyID string) error {
	_, err := c.api.DeleteSshPublicKeyWithContext(ctx, &transfer.DeleteSshPublicKeyInput{
		ServerId:       aws.String(c.serverID),
		UserName:       aws.String(username),
		SshPublicKeyId: aws.String(keyID),
	})
	if err != nil {
		if isNotFound(err) {
			return apierr.NotFound(fmt.Sprintf("SSH key %s not found", keyID))
		}
		return c.remote("delete ssh key", err)
	}
	return nil
}

func (c *Client) remote(action string, err error) error {
	code := awsutil.Code(err)
	c.log.Error("transfer request failed", "action", action, "code", code, "err", err)
	e := apierr.Remote("Transfer", code, err)
	if code == "" {
		code = "UnknownError"
	}
	e.Message = fmt.Sprintf("Failed to %s: %s", action, code)
	return e
}

func isNotFound(err error) bool {
	return awsutil.Code(err) == transfer.ErrCodeResourceNotFoundException
}

// userTags lists the tags written at creation: provenance and role first,
// then optional profile fields, then caller tags.
func userTags(req CreateUserRequest) []Tag {
	tags := []Tag{{Key: "CreatedBy", Value: "WebApp"}, {Key: "Role", Value: req.Role}}
	if req.Email != "" {
		tags = append(tags, Tag{Key: "Email", Value: req.Email})
	}
	if req.FirstName != "" {
		tags = append(tags, Tag{Key: "FirstName", Value: req.FirstName})
	}
	if req.LastName != "" {
		tags = append(tags, Tag{Key: "LastName", Value: req.LastName})
	}
	return append(tags, req.Tags...)
}

func toSDKTags(tags []Tag) []*transfer.Tag {
	out := make([]*transfer.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, &transfer.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return out
}

func fromDescribed(serverID string, d *transfer.DescribedUser) *User {
	u := &User{ServerID: serverID, State: "active", Tags: []Tag{}}
	if d == nil {
		return u
	}
	u.UserName = aws.StringValue(d.UserName)
	u.HomeDirectory = aws.StringValue(d.HomeDirectory)
	u.Role = aws.StringValue(d.Role)
	u.SSHPublicKeyCount = len(d.SshPublicKeys)
	for _, t := range d.Tags {
		u.Tags = append(u.Tags, Tag{Key: aws.StringValue(t.Key), Value: aws.StringValue(t.Value)})
	}
	u.Email = u.TagValue("Email")
	u.FirstName = u.TagValue("FirstName")
	u.LastName = u.TagValue("LastName")
	u.UserRole = u.TagValue("Role")
	if u.UserRole == "" {
		u.UserRole = "user"
	}
	return u
}

// IsNotFound reports whether err means the remote user is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, apierr.ErrNotFound)
}
