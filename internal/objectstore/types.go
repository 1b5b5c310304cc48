package objectstore

import (
	"strings"
	"time"
)

// Object is a listed object or a folder placeholder.
type Object struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	StorageClass string    `json:"storageClass"`
	ETag         *string   `json:"etag"`
	IsFolder     bool      `json:"isFolder"`
	Extension    *string   `json:"extension"`
}

func newObject(key string, size int64, modified time.Time, class string, etag *string) Object {
	if class == "" {
		class = "STANDARD"
	}
	o := Object{
		Key:          key,
		Size:         size,
		LastModified: modified,
		StorageClass: class,
		ETag:         etag,
		IsFolder:     strings.HasSuffix(key, "/"),
	}
	trimmed := strings.TrimSuffix(key, "/")
	o.Name = trimmed[strings.LastIndex(trimmed, "/")+1:]
	if !o.IsFolder {
		if i := strings.LastIndex(o.Name, "."); i >= 0 {
			ext := strings.ToLower(o.Name[i+1:])
			o.Extension = &ext
		}
	}
	return o
}

// Stats aggregates the objects under a folder prefix, excluding markers.
type Stats struct {
	TotalSize    int64      `json:"totalSize"`
	ObjectCount  int        `json:"objectCount"`
	LastModified *time.Time `json:"lastModified"`
}

// Folder is a top-level folder with its statistics.
type Folder struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Stats
}

// ListRequest pages through the bucket.
type ListRequest struct {
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
}

// ListResult is one page of objects.
type ListResult struct {
	Objects               []Object
	HasMore               bool
	NextContinuationToken string
}

// UploadRequest describes a browser upload.
type UploadRequest struct {
	FileName    string
	FileSize    int64
	ContentType string
	Folder      string
}

// Key returns the destination object key.
func (r UploadRequest) Key() string {
	if f := strings.Trim(r.Folder, "/"); f != "" {
		return f + "/" + r.FileName
	}
	return r.FileName
}

// PresignedPost carries the form target and fields for a direct browser upload.
type PresignedPost struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
	Key    string            `json:"key"`
}

// topFolder returns the first segment of key, or "" for root-level objects.
func topFolder(key string) string {
	key = strings.TrimPrefix(key, "/")
	i := strings.Index(key, "/")
	if i <= 0 {
		return ""
	}
	return key[:i]
}
