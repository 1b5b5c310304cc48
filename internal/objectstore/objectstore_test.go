package objectstore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/logging"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore/s3test"
)

func newTestClient(f *s3test.Fake, mut ...func(*Options)) *Client {
	opt := Options{
		Bucket:        "test-bucket",
		Region:        "us-east-1",
		Credentials:   s3test.Credentials,
		UploadMaxSize: 1000,
		Logger:        logging.Discard(),
	}
	for _, m := range mut {
		m(&opt)
	}
	return New(f, opt)
}

func TestNewObject(t *testing.T) {
	o := newObject("alice/report.PDF", 10, time.Time{}, "", nil)
	assert.Equal(t, "report.PDF", o.Name)
	assert.Equal(t, "pdf", *o.Extension)
	assert.Equal(t, "STANDARD", o.StorageClass)
	assert.False(t, o.IsFolder)

	d := newObject("alice/reports/", 0, time.Time{}, "DIRECTORY", nil)
	assert.Equal(t, "reports", d.Name)
	assert.True(t, d.IsFolder)
	assert.Nil(t, d.Extension)

	assert.Nil(t, newObject("README", 1, time.Time{}, "", nil).Extension)
}

func TestListObjectsMaxKeys(t *testing.T) {
	f := s3test.New()
	c := newTestClient(f)
	ctx := context.Background()

	for _, n := range []int{0, 1001} {
		_, err := c.ListObjects(ctx, ListRequest{MaxKeys: n})
		require.Error(t, err)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		assert.Contains(t, err.Error(), "Max keys must be between 1 and 1000")
	}
	_, err := c.ListObjects(ctx, ListRequest{MaxKeys: 1000})
	assert.NoError(t, err)
	assert.Equal(t, 1, f.ListCalls, "invalid requests never reach S3")
}

func TestListObjectsFoldersThenFiles(t *testing.T) {
	f := s3test.New()
	now := time.Now().UTC()
	f.Put("alice/", 0, now)
	f.Put("alice/a.txt", 5, now)
	f.Put("alice/sub/b.txt", 7, now)
	f.Put("bob/c.txt", 1, now)
	c := newTestClient(f)

	res, err := c.ListObjects(context.Background(), ListRequest{Prefix: "alice/", MaxKeys: 100})
	require.NoError(t, err)
	require.Len(t, res.Objects, 2)
	assert.Equal(t, "alice/sub/", res.Objects[0].Key)
	assert.True(t, res.Objects[0].IsFolder)
	assert.Equal(t, int64(0), res.Objects[0].Size)
	assert.Equal(t, "DIRECTORY", res.Objects[0].StorageClass)
	assert.Equal(t, "alice/a.txt", res.Objects[1].Key)
	assert.False(t, res.HasMore)
}

func TestListObjectsPaginates(t *testing.T) {
	f := s3test.New()
	for _, k := range []string{"a.txt", "b.txt", "c.txt"} {
		f.Put(k, 1, time.Now())
	}
	c := newTestClient(f)
	ctx := context.Background()

	first, err := c.ListObjects(ctx, ListRequest{MaxKeys: 2})
	require.NoError(t, err)
	assert.Len(t, first.Objects, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextContinuationToken)

	second, err := c.ListObjects(ctx, ListRequest{MaxKeys: 2, ContinuationToken: first.NextContinuationToken})
	require.NoError(t, err)
	require.Len(t, second.Objects, 1)
	assert.Equal(t, "c.txt", second.Objects[0].Key)
	assert.False(t, second.HasMore)
}

func TestListTopLevelFolders(t *testing.T) {
	f := s3test.New()
	f.PageSize = 2
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(48 * time.Hour)
	f.Put("alice/", 0, recent.Add(time.Hour))
	f.Put("alice/a.txt", 10, old)
	f.Put("alice/b.txt", 20, recent)
	f.Put("alice/deep/c.txt", 30, old)
	f.Put("empty/", 0, old)
	f.Put("root.txt", 99, old)
	c := newTestClient(f)

	folders, err := c.ListTopLevelFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 2)

	a := folders[0]
	assert.Equal(t, "alice", a.Name)
	assert.Equal(t, "alice/", a.Prefix)
	assert.Equal(t, int64(60), a.TotalSize)
	assert.Equal(t, 3, a.ObjectCount)
	require.NotNil(t, a.LastModified)
	assert.True(t, a.LastModified.Equal(recent), "marker objects are excluded")

	e := folders[1]
	assert.Equal(t, "empty", e.Name)
	assert.Equal(t, 0, e.ObjectCount)
	assert.Nil(t, e.LastModified)
}

func TestFolderStatsErrorYieldsZero(t *testing.T) {
	f := s3test.New()
	f.ListErr = awserr.New("AccessDenied", "denied", nil)
	c := newTestClient(f)
	assert.Equal(t, Stats{}, c.FolderStats(context.Background(), "alice"))
}

type memCache struct {
	mu          sync.Mutex
	m           map[string]Stats
	invalidated []string
}

func (c *memCache) Get(_ context.Context, k string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[k]
	return s, ok
}

func (c *memCache) Set(_ context.Context, k string, s Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[k] = s
}

func (c *memCache) Invalidate(_ context.Context, k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, k)
	c.invalidated = append(c.invalidated, k)
}

func TestFolderStatsCacheAndInvalidation(t *testing.T) {
	f := s3test.New()
	f.Put("alice/a.txt", 10, time.Now())
	cache := &memCache{m: map[string]Stats{}}
	c := newTestClient(f, func(o *Options) { o.Cache = cache })
	ctx := context.Background()

	assert.Equal(t, 1, c.FolderStats(ctx, "alice").ObjectCount)
	calls := f.ListCalls
	assert.Equal(t, 1, c.FolderStats(ctx, "alice").ObjectCount)
	assert.Equal(t, calls, f.ListCalls, "second read is served from cache")

	require.NoError(t, c.MoveObject(ctx, "alice/a.txt", "bob/a.txt"))
	assert.ElementsMatch(t, []string{"bob", "alice"}, cache.invalidated)
	assert.Equal(t, 0, c.FolderStats(ctx, "alice").ObjectCount)
}

func TestGenerateUploadURLValidation(t *testing.T) {
	c := newTestClient(s3test.New())
	_, err := c.GenerateUploadURL(context.Background(), UploadRequest{FileName: "../x", FileSize: 5000})
	require.Error(t, err)
	assert.Equal(t,
		"Invalid file name; File size exceeds maximum allowed size of 1000 bytes; Content type is required",
		apierr.From(err).Message)

	_, err = c.GenerateUploadURL(context.Background(), UploadRequest{FileName: " ", FileSize: 0, ContentType: "text/plain"})
	require.Error(t, err)
	assert.Equal(t, "File name is required; File size must be greater than 0", apierr.From(err).Message)

	_, err = c.GenerateUploadURL(context.Background(), UploadRequest{
		FileName: "a.txt", FileSize: 10, ContentType: "text/plain", Folder: "../x",
	})
	require.Error(t, err)
	assert.Equal(t, "Folder must not contain '..' segments", apierr.From(err).Message)
}

func TestGenerateUploadURL(t *testing.T) {
	c := newTestClient(s3test.New())
	c.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	post, err := c.GenerateUploadURL(context.Background(), UploadRequest{
		FileName: "a.csv", FileSize: 10, ContentType: "text/csv", Folder: "/alice/",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice/a.csv", post.Key)
	assert.Equal(t, "https://test-bucket.s3.us-east-1.amazonaws.com/", post.URL)
	assert.Equal(t, "alice/a.csv", post.Fields["key"])
	assert.Equal(t, "AKIDTEST/20240501/us-east-1/s3/aws4_request", post.Fields["x-amz-credential"])
	assert.Equal(t, "20240501T100000Z", post.Fields["x-amz-date"])
	assert.Equal(t,
		"eyJjb25kaXRpb25zIjpbeyJidWNrZXQiOiJ0ZXN0LWJ1Y2tldCJ9LFsiY29udGVudC1sZW5ndGgtcmFuZ2UiLDEsMTAwMF0seyJrZXkiOiJhbGljZS9hLmNzdiJ9"+
			"LHsiQ29udGVudC1UeXBlIjoidGV4dC9jc3YifSx7IngtYW16LWFsZ29yaXRobSI6IkFXUzQtSE1BQy1TSEEyNTYifSx7IngtYW16LWNyZWRlbnRpYWwiOiJB"+
			"S0lEVEVTVC8yMDI0MDUwMS91cy1lYXN0LTEvczMvYXdzNF9yZXF1ZXN0In0seyJ4LWFtei1kYXRlIjoiMjAyNDA1MDFUMTAwMDAwWiJ9XSwiZXhwaXJhdGlv"+
			"biI6IjIwMjQtMDUtMDFUMTE6MDA6MDAuMDAwWiJ9",
		post.Fields["policy"])
	assert.Equal(t, "1e64f5e87eec9bbbe43c5da899795f7dd2ea310ce838a36bf56e4f0f2f9fc74c", post.Fields["x-amz-signature"])

	raw, err := base64.StdEncoding.DecodeString(post.Fields["policy"])
	require.NoError(t, err)
	var doc struct {
		Expiration string `json:"expiration"`
		Conditions []any  `json:"conditions"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "2024-05-01T11:00:00.000Z", doc.Expiration)
	assert.Contains(t, doc.Conditions, map[string]any{"bucket": "test-bucket"})
	assert.Contains(t, doc.Conditions, []any{"content-length-range", float64(1), float64(1000)})
	assert.Contains(t, doc.Conditions, map[string]any{"Content-Type": "text/csv"})
}

// The vector is the derived-key example from the AWS SigV4 documentation.
func TestSigningKey(t *testing.T) {
	k := signingKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam")
	assert.Equal(t, "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d", hex.EncodeToString(k))
}

func TestGenerateDownloadURL(t *testing.T) {
	c := newTestClient(s3test.New())
	ctx := context.Background()

	u, exp, err := c.GenerateDownloadURL(ctx, "alice/a.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, exp)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "3600", parsed.Query().Get("X-Amz-Expires"))
	assert.Contains(t, parsed.Path, "alice/a.txt")

	_, _, err = c.GenerateDownloadURL(ctx, "alice/a.txt", -time.Second)
	assert.ErrorIs(t, err, apierr.ErrValidation)

	capped := newTestClient(s3test.New(), func(o *Options) { o.DownloadMaxExpiry = 10 * time.Minute })
	_, _, err = capped.GenerateDownloadURL(ctx, "alice/a.txt", time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expiration cannot exceed 600 seconds")

	// Without a configured cap the lifetime is left to the signer and S3.
	_, exp, err = c.GenerateDownloadURL(ctx, "alice/a.txt", 8*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 8*24*time.Hour, exp)
}

func TestMoveObjectDeleteFailureLeavesBoth(t *testing.T) {
	f := s3test.New()
	f.Put("alice/a.txt", 3, time.Now())
	f.DeleteErr = awserr.New("AccessDenied", "denied", nil)
	c := newTestClient(f)

	err := c.MoveObject(context.Background(), "alice/a.txt", "alice/b.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrRemote)
	assert.True(t, f.Has("alice/a.txt"))
	assert.True(t, f.Has("alice/b.txt"))
}

func TestMoveObjectMissingSource(t *testing.T) {
	c := newTestClient(s3test.New())
	err := c.MoveObject(context.Background(), "alice/none.txt", "alice/b.txt")
	var ae *apierr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "NoSuchKey", ae.Code)
}

func TestCreateFolder(t *testing.T) {
	f := s3test.New()
	c := newTestClient(f)
	ctx := context.Background()

	key, err := c.CreateFolder(ctx, "a-b_1", "/alice/")
	require.NoError(t, err)
	assert.Equal(t, "alice/a-b_1/", key)
	assert.Equal(t, "application/x-directory", f.ContentType(key))

	key, err = c.CreateFolder(ctx, "top", "")
	require.NoError(t, err)
	assert.Equal(t, "top/", key)

	_, err = c.CreateFolder(ctx, "a/b", "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = c.CreateFolder(ctx, "x", "alice/../bob")
	require.Error(t, err)
	assert.Equal(t, "Parent folder must not contain '..' segments", apierr.From(err).Message)
	assert.False(t, f.Has("bob/x/"))
}

func TestHeadObject(t *testing.T) {
	f := s3test.New()
	f.Put("alice/a.txt", 42, time.Now())
	c := newTestClient(f)
	ctx := context.Background()

	o, ok, err := c.HeadObject(ctx, "alice/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), o.Size)
	assert.Equal(t, "txt", *o.Extension)

	_, ok, err = c.HeadObject(ctx, "alice/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopFolder(t *testing.T) {
	assert.Equal(t, "alice", topFolder("alice/a.txt"))
	assert.Equal(t, "alice", topFolder("/alice/sub/"))
	assert.Equal(t, "", topFolder("root.txt"))
}
