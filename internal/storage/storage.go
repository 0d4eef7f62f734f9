package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored dataset file. ETag changes whenever the
// content changes: the S3 ETag for buckets, a content hash for local files.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// NormalizeETag strips the quoting and weak-validator prefix some servers
// add, so ETags from Put and Stat compare equal for the same content.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// ObjectStore is where dataset files live. Keys are dataset keys as built by
// DatasetKey.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Location() string
}
