// Package types holds the object storage contract shared by the archive
// adapters.
package types

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrObjectNotFound is returned when a key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for empty keys or keys escaping their bucket.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrDisabled is returned by the factory when no provider is configured.
	ErrDisabled = errors.New("storage disabled")
)

// ObjectStorage abstracts the archive backend. An empty bucket selects the
// adapter's configured default.
type ObjectStorage interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, metadata ObjectMetadata) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	GetWithMetadata(ctx context.Context, bucket, key string) (io.ReadCloser, *ObjectMetadata, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	ContentType     string            `json:"content_type,omitempty"`
	ContentLength   int64             `json:"content_length,omitempty"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	CacheControl    string            `json:"cache_control,omitempty"`
	LastModified    time.Time         `json:"last_modified,omitempty"`
	ETag            string            `json:"etag,omitempty"`
	UserMetadata    map[string]string `json:"user_metadata,omitempty"`
}

// ObjectInfo is a List entry.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}
