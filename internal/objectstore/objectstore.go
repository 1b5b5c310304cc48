// Package objectstore lists and organises objects in the transfer bucket
// and issues presigned upload and download URLs.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/awsutil"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/validate"
)

const (
	// MaxListKeys is the largest page ListObjects accepts.
	MaxListKeys = 1000
	// DefaultDownloadExpiry applies when the caller gives none.
	DefaultDownloadExpiry = time.Hour
	// UploadExpiry is the lifetime of presigned upload forms.
	UploadExpiry = time.Hour

	folderContentType = "application/x-directory"
)

type Options struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	// Credentials sign presigned POST policies.
	Credentials   *credentials.Credentials
	UploadMaxSize int64
	// DownloadMaxExpiry caps download URL lifetimes. Zero means no local cap.
	DownloadMaxExpiry time.Duration
	// Cache, when set, memoises folder statistics.
	Cache  StatsCache
	Logger *slog.Logger
}

// Client operates on a single bucket.
type Client struct {
	api s3iface.S3API
	opt Options
	log *slog.Logger
	now func() time.Time
}

func New(api s3iface.S3API, opt Options) *Client {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	if opt.UploadMaxSize <= 0 {
		opt.UploadMaxSize = 100 << 20
	}
	return &Client{api: api, opt: opt, log: log, now: time.Now}
}

// ListTopLevelFolders returns the root-level folders with statistics.
// Statistics require listing every object beneath each folder.
func (c *Client) ListTopLevelFolders(ctx context.Context) ([]Folder, error) {
	var prefixes []string
	err := c.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.opt.Bucket),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, p := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.StringValue(p.Prefix))
		}
		return true
	})
	if err != nil {
		return nil, c.remote("list folders", err)
	}

	folders := make([]Folder, 0, len(prefixes))
	for _, p := range prefixes {
		name := strings.TrimSuffix(p, "/")
		folders = append(folders, Folder{Name: name, Prefix: p, Stats: c.FolderStats(ctx, name)})
	}
	c.log.Debug("listed folders", "count", len(folders))
	return folders, nil
}

// FolderStats totals the objects under name/. Failures yield zero
// statistics and a warning.
func (c *Client) FolderStats(ctx context.Context, name string) Stats {
	if c.opt.Cache != nil {
		if s, ok := c.opt.Cache.Get(ctx, name); ok {
			return s
		}
	}

	var s Stats
	err := c.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.opt.Bucket),
		Prefix: aws.String(name + "/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			if strings.HasSuffix(aws.StringValue(o.Key), "/") {
				continue
			}
			s.TotalSize += aws.Int64Value(o.Size)
			s.ObjectCount++
			if o.LastModified != nil && (s.LastModified == nil || o.LastModified.After(*s.LastModified)) {
				t := *o.LastModified
				s.LastModified = &t
			}
		}
		return true
	})
	if err != nil {
		c.log.Warn("error getting folder stats", "folder", name, "err", err)
		return Stats{}
	}
	if c.opt.Cache != nil {
		c.opt.Cache.Set(ctx, name, s)
	}
	return s
}

// ListObjects returns one page of folders and files.
func (c *Client) ListObjects(ctx context.Context, req ListRequest) (ListResult, error) {
	var errs validate.Errors
	errs.Check(req.MaxKeys >= 1 && req.MaxKeys <= MaxListKeys, "Max keys must be between 1 and 1000")
	if err := errs.Err(); err != nil {
		return ListResult{}, apierr.Validation(err)
	}
	if req.Delimiter == "" {
		req.Delimiter = "/"
	}

	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.opt.Bucket),
		MaxKeys:   aws.Int64(int64(req.MaxKeys)),
		Delimiter: aws.String(req.Delimiter),
	}
	if req.Prefix != "" {
		in.Prefix = aws.String(req.Prefix)
	}
	if req.ContinuationToken != "" {
		in.ContinuationToken = aws.String(req.ContinuationToken)
	}
	out, err := c.api.ListObjectsV2WithContext(ctx, in)
	if err != nil {
		return ListResult{}, c.remote("list objects", err)
	}

	now := c.now().UTC()
	res := ListResult{
		Objects:               make([]Object, 0, len(out.CommonPrefixes)+len(out.Contents)),
		HasMore:               aws.BoolValue(out.IsTruncated),
		NextContinuationToken: aws.StringValue(out.NextContinuationToken),
	}
	for _, p := range out.CommonPrefixes {
		res.Objects = append(res.Objects, newObject(aws.StringValue(p.Prefix), 0, now, "DIRECTORY", nil))
	}
	for _, o := range out.Contents {
		key := aws.StringValue(o.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		res.Objects = append(res.Objects, newObject(key, aws.Int64Value(o.Size), aws.TimeValue(o.LastModified), aws.StringValue(o.StorageClass), o.ETag))
	}
	return res, nil
}

// GenerateUploadURL validates req and returns a presigned POST form for it.
func (c *Client) GenerateUploadURL(ctx context.Context, req UploadRequest) (PresignedPost, error) {
	maxSize := c.opt.UploadMaxSize
	var errs validate.Errors
	validate.FileName(&errs, req.FileName)
	if strings.Trim(req.Folder, "/") != "" {
		validate.ObjectKey(&errs, "Folder", req.Folder)
	}
	errs.Check(req.FileSize > 0, "File size must be greater than 0")
	errs.Check(req.FileSize <= maxSize, fmt.Sprintf("File size exceeds maximum allowed size of %d bytes", maxSize))
	errs.Check(req.ContentType != "", "Content type is required")
	if err := errs.Err(); err != nil {
		return PresignedPost{}, apierr.Validation(err)
	}

	key := req.Key()
	post, err := c.presignPost(key, req.ContentType, maxSize, UploadExpiry)
	if err != nil {
		return PresignedPost{}, c.remote("generate upload URL", err)
	}
	c.log.Info("generated upload url", "key", key)
	return post, nil
}

// GenerateDownloadURL presigns a GET for key. A zero expiry means the default.
func (c *Client) GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, time.Duration, error) {
	if expiry == 0 {
		expiry = DefaultDownloadExpiry
	}
	var errs validate.Errors
	validate.ObjectKey(&errs, "Object key", key)
	errs.Check(expiry > 0, "Expiration must be greater than 0")
	if m := c.opt.DownloadMaxExpiry; m > 0 {
		errs.Check(expiry <= m, fmt.Sprintf("Expiration cannot exceed %d seconds", int(m/time.Second)))
	}
	if err := errs.Err(); err != nil {
		return "", 0, apierr.Validation(err)
	}

	r, _ := c.api.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(c.opt.Bucket),
		Key:    aws.String(key),
	})
	r.SetContext(ctx)
	u, err := r.Presign(expiry)
	if err != nil {
		return "", 0, c.remote("generate download URL", err)
	}
	return u, expiry, nil
}

// DeleteObject removes key.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.opt.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return c.remote("delete object", err)
	}
	c.invalidate(ctx, key)
	c.log.Info("object deleted", "key", key)
	return nil
}

// MoveObject copies src to dst and then deletes src. The two steps are not
// atomic: when the delete fails both objects remain and the error is returned.
func (c *Client) MoveObject(ctx context.Context, src, dst string) error {
	_, err := c.api.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.opt.Bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(copySource(c.opt.Bucket, src)),
	})
	if err != nil {
		return c.remote("copy object", err)
	}
	c.invalidate(ctx, dst)
	if err := c.DeleteObject(ctx, src); err != nil {
		return err
	}
	c.log.Info("object moved", "from", src, "to", dst)
	return nil
}

// CreateFolder writes the marker object for parent/name/ and returns its key.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	var errs validate.Errors
	validate.FolderName(&errs, name)
	if strings.Trim(parent, "/") != "" {
		validate.ObjectKey(&errs, "Parent folder", parent)
	}
	if err := errs.Err(); err != nil {
		return "", apierr.Validation(err)
	}
	key := name + "/"
	if p := strings.Trim(parent, "/"); p != "" {
		key = p + "/" + key
	}

	_, err := c.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.opt.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String(folderContentType),
	})
	if err != nil {
		return "", c.remote("create folder", err)
	}
	c.invalidate(ctx, key)
	c.log.Info("folder created", "key", key)
	return key, nil
}

// HeadObject returns metadata for key. The boolean is false when it does not exist.
func (c *Client) HeadObject(ctx context.Context, key string) (*Object, bool, error) {
	out, err := c.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.opt.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, c.remote("get object info", err)
	}
	modified := c.now().UTC()
	if out.LastModified != nil {
		modified = *out.LastModified
	}
	o := newObject(key, aws.Int64Value(out.ContentLength), modified, aws.StringValue(out.StorageClass), out.ETag)
	return &o, true, nil
}

func (c *Client) invalidate(ctx context.Context, key string) {
	if c.opt.Cache == nil {
		return
	}
	if f := topFolder(key); f != "" {
		c.opt.Cache.Invalidate(ctx, f)
	}
}

func (c *Client) remote(action string, err error) error {
	code := awsutil.Code(err)
	c.log.Error("s3 request failed", "action", action, "code", code, "err", err)
	e := apierr.Remote("S3", code, err)
	if code == "" {
		code = "UnknownError"
	}
	e.Message = fmt.Sprintf("Failed to %s: %s", action, code)
	return e
}

func isNotFound(err error) bool {
	switch awsutil.Code(err) {
	case "NotFound", "NoSuchKey", "404":
		return true
	}
	return awsutil.StatusCode(err) == http.StatusNotFound
}

func copySource(bucket, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}
