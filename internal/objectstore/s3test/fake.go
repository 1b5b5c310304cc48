// Package s3test provides an in-memory S3 API for tests.
package s3test

import (
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Credentials are the static keys used by the fake's presigner.
var Credentials = credentials.NewStaticCredentials("AKIDTEST", "test-secret", "")

type object struct {
	size        int64
	modified    time.Time
	contentType string
}

// Fake implements the subset of s3iface.S3API used by the object store
// client, for a single bucket. Calling any other method panics.
type Fake struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]object
	signer  *s3.S3

	// PageSize limits keys per ListObjectsV2 page when paginating.
	PageSize int
	// ListErr fails every list call.
	ListErr error
	// DeleteErr fails every DeleteObject call.
	DeleteErr error
	// ListCalls counts list requests.
	ListCalls int
}

func New() *Fake {
	sess := session.Must(session.NewSession(&aws.Config{
		Region:      aws.String("us-east-1"),
		Credentials: Credentials,
	}))
	return &Fake{objects: map[string]object{}, signer: s3.New(sess), PageSize: 1000}
}

// Put seeds an object.
func (f *Fake) Put(key string, size int64, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = object{size: size, modified: modified}
}

// Has reports whether key exists.
func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// ContentType returns the stored content type of key.
func (f *Fake) ContentType(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key].contentType
}

func noSuchKey() error {
	return awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil), 404, "req")
}

// page lists keys under prefix after the continuation token.
func (f *Fake) page(in *s3.ListObjectsV2Input) *s3.ListObjectsV2Output {
	prefix := aws.StringValue(in.Prefix)
	delim := aws.StringValue(in.Delimiter)
	limit := int(aws.Int64Value(in.MaxKeys))
	if limit <= 0 || limit > f.PageSize {
		limit = f.PageSize
	}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	// Entries are either object keys or rolled-up common prefixes.
	var entries []string
	seen := map[string]bool{}
	for _, k := range keys {
		if delim != "" {
			if i := strings.Index(k[len(prefix):], delim); i >= 0 {
				cp := k[:len(prefix)+i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, cp)
				}
				continue
			}
		}
		entries = append(entries, k)
	}

	start := 0
	if tok := aws.StringValue(in.ContinuationToken); tok != "" {
		start = sort.SearchStrings(entries, tok)
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(entries))}
	if end < len(entries) {
		out.NextContinuationToken = aws.String(entries[end])
	}
	for _, e := range entries[start:end] {
		if seen[e] {
			out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(e)})
			continue
		}
		o := f.objects[e]
		out.Contents = append(out.Contents, &s3.Object{
			Key:          aws.String(e),
			Size:         aws.Int64(o.size),
			LastModified: aws.Time(o.modified),
			StorageClass: aws.String("STANDARD"),
			ETag:         aws.String(`"etag-` + e + `"`),
		})
	}
	return out
}

func (f *Fake) ListObjectsV2WithContext(_ aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.page(in), nil
}

func (f *Fake) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	cur := *in
	for {
		out, err := f.ListObjectsV2WithContext(ctx, &cur, opts...)
		if err != nil {
			return err
		}
		last := !aws.BoolValue(out.IsTruncated)
		if !fn(out, last) || last {
			return nil
		}
		cur.ContinuationToken = out.NextContinuationToken
	}
}

func (f *Fake) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	var size int64
	if in.Body != nil {
		n, err := io.Copy(io.Discard, in.Body)
		if err != nil {
			return nil, err
		}
		size = n
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = object{size: size, modified: time.Now().UTC(), contentType: aws.StringValue(in.ContentType)}
	return &s3.PutObjectOutput{}, nil
}

func (f *Fake) CopyObjectWithContext(_ aws.Context, in *s3.CopyObjectInput, _ ...request.Option) (*s3.CopyObjectOutput, error) {
	src, err := url.PathUnescape(aws.StringValue(in.CopySource))
	if err != nil {
		return nil, err
	}
	_, key, _ := strings.Cut(src, "/")
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	if !ok {
		return nil, noSuchKey()
	}
	o.modified = time.Now().UTC()
	f.objects[aws.StringValue(in.Key)] = o
	return &s3.CopyObjectOutput{}, nil
}

func (f *Fake) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return nil, f.DeleteErr
	}
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *Fake) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), 404, "req")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(o.size),
		LastModified:  aws.Time(o.modified),
		ETag:          aws.String(`"etag"`),
	}, nil
}

// GetObjectRequest returns a real, unsent request so presigning works offline.
func (f *Fake) GetObjectRequest(in *s3.GetObjectInput) (*request.Request, *s3.GetObjectOutput) {
	return f.signer.GetObjectRequest(in)
}
