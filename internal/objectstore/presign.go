package objectstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	amzDateFormat  = "20060102T150405Z"
)

// presignPost builds a SigV4-signed POST policy allowing one upload of
// key with the given content type and a size of 1..maxSize bytes.
func (c *Client) presignPost(key, contentType string, maxSize int64, expiry time.Duration) (PresignedPost, error) {
	if c.opt.Credentials == nil {
		return PresignedPost{}, errors.New("no credentials configured for presigned uploads")
	}
	v, err := c.opt.Credentials.Get()
	if err != nil {
		return PresignedPost{}, fmt.Errorf("resolve credentials: %w", err)
	}

	now := c.now().UTC()
	day := now.Format("20060102")
	credential := strings.Join([]string{v.AccessKeyID, day, c.opt.Region, "s3", "aws4_request"}, "/")

	fields := map[string]string{
		"key":              key,
		"Content-Type":     contentType,
		"x-amz-algorithm":  sigV4Algorithm,
		"x-amz-credential": credential,
		"x-amz-date":       now.Format(amzDateFormat),
	}
	if v.SessionToken != "" {
		fields["x-amz-security-token"] = v.SessionToken
	}

	conditions := []any{
		map[string]string{"bucket": c.opt.Bucket},
		[]any{"content-length-range", 1, maxSize},
	}
	for _, k := range []string{"key", "Content-Type", "x-amz-algorithm", "x-amz-credential", "x-amz-date", "x-amz-security-token"} {
		if val, ok := fields[k]; ok {
			conditions = append(conditions, map[string]string{k: val})
		}
	}
	doc, err := json.Marshal(map[string]any{
		"expiration": now.Add(expiry).Format("2006-01-02T15:04:05.000Z"),
		"conditions": conditions,
	})
	if err != nil {
		return PresignedPost{}, err
	}
	policy := base64.StdEncoding.EncodeToString(doc)

	fields["policy"] = policy
	fields["x-amz-signature"] = hex.EncodeToString(hmacSHA256(signingKey(v.SecretAccessKey, day, c.opt.Region, "s3"), policy))

	return PresignedPost{URL: c.postURL(), Fields: fields, Key: key}, nil
}

// postURL is the form action for browser uploads to the bucket.
func (c *Client) postURL() string {
	if ep := strings.TrimRight(c.opt.Endpoint, "/"); ep != "" {
		return ep + "/" + c.opt.Bucket
	}
	if c.opt.ForcePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s", c.opt.Region, c.opt.Bucket)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", c.opt.Bucket, c.opt.Region)
}

// signingKey derives the SigV4 key for one day, region and service.
func signingKey(secret, day, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), day)
	for _, part := range []string{region, service, "aws4_request"} {
		k = hmacSHA256(k, part)
	}
	return k
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
