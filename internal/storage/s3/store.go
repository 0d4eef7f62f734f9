package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/csvqa/csvqa/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// ErrBucketMissing is returned when the configured bucket does not exist.
// Unlike a missing dataset file it is never treated as "not uploaded yet".
var ErrBucketMissing = errors.New("dataset bucket does not exist")

// datasetBucket is the slice of the S3 API the dataset store needs, bound to
// one bucket.
type datasetBucket interface {
	Upload(ctx context.Context, objectKey string, body io.Reader, size int64, contentType string) (objectMeta, error)
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Head(ctx context.Context, objectKey string) (objectMeta, error)
	Ensure(ctx context.Context) error
	Name() string
}

type objectMeta struct {
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store keeps the dataset's table files ("Customer.csv", "Pricelist.parquet")
// under a prefix in one bucket. Only dataset keys are accepted. ETags are
// normalized so a re-upload with new content is always seen as a change by
// the dataset manager, and identical content never is.
type Store struct {
	bucket datasetBucket
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	bucket, err := dialBucket(cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{bucket: bucket, prefix: cleanPrefix(cfg.Prefix)}
	if cfg.AutoCreateBucket {
		if err := bucket.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %q: %w", bucket.Name(), err)
		}
	}
	return store, nil
}

func newWithBucket(bucket datasetBucket, prefix string) (*Store, error) {
	if bucket == nil {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{bucket: bucket, prefix: cleanPrefix(prefix)}, nil
}

// Put uploads one table file. The content type follows the key's format.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) (storage.ObjectInfo, error) {
	datasetKey, format, objectKey, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	meta, err := s.bucket.Upload(ctx, objectKey, body, size, storage.ContentType(format))
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s to %s: %w", datasetKey, s.Location(), err)
	}
	return meta.info(datasetKey), nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	datasetKey, _, objectKey, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Download(ctx, objectKey)
	if err != nil {
		return nil, s.wrap("download", datasetKey, err)
	}
	return reader, nil
}

// Stat reports the file's current ETag without downloading it.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	datasetKey, _, objectKey, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	meta, err := s.bucket.Head(ctx, objectKey)
	if err != nil {
		return storage.ObjectInfo{}, s.wrap("stat", datasetKey, err)
	}
	return meta.info(datasetKey), nil
}

func (s *Store) Location() string {
	if s.prefix == "" {
		return "s3://" + s.bucket.Name()
	}
	return "s3://" + s.bucket.Name() + "/" + s.prefix
}

// resolve validates key as a dataset key and returns its canonical form,
// its format and the object key inside the bucket.
func (s *Store) resolve(key string) (datasetKey, format, objectKey string, err error) {
	table, format, err := storage.ParseDatasetKey(key)
	if err != nil {
		return "", "", "", err
	}
	datasetKey, err = storage.DatasetKey(table, format)
	if err != nil {
		return "", "", "", err
	}
	if s.prefix == "" {
		return datasetKey, format, datasetKey, nil
	}
	return datasetKey, format, path.Join(s.prefix, datasetKey), nil
}

func (s *Store) wrap(op, datasetKey string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ErrObjectNotFound
	}
	return fmt.Errorf("%s %s in %s: %w", op, datasetKey, s.Location(), err)
}

func (m objectMeta) info(datasetKey string) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          datasetKey,
		Size:         m.Size,
		ETag:         storage.NormalizeETag(m.ETag),
		LastModified: m.LastModified.UTC(),
	}
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint host is required")
	}
	return parsed.Host, parsed.Scheme == "https" || useSSL, nil
}

type minioBucket struct {
	client *minio.Client
	name   string
	region string
}

func dialBucket(cfg Config) (*minioBucket, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioBucket{client: client, name: strings.TrimSpace(cfg.Bucket), region: region}, nil
}

func (b *minioBucket) Name() string {
	return b.name
}

func (b *minioBucket) Upload(ctx context.Context, objectKey string, body io.Reader, size int64, contentType string) (objectMeta, error) {
	upload, err := b.client.PutObject(ctx, b.name, objectKey, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return objectMeta{}, mapMinioErr(err)
	}
	lastModified := upload.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	return objectMeta{Size: upload.Size, ETag: upload.ETag, LastModified: lastModified}, nil
}

func (b *minioBucket) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.name, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the caller reads
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (b *minioBucket) Head(ctx context.Context, objectKey string) (objectMeta, error) {
	obj, err := b.client.StatObject(ctx, b.name, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return objectMeta{}, mapMinioErr(err)
	}
	return objectMeta{Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}, nil
}

func (b *minioBucket) Ensure(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.name)
	if err != nil {
		return mapMinioErr(err)
	}
	if exists {
		return nil
	}
	return mapMinioErr(b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{Region: b.region}))
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NotFound":
			return storage.ErrObjectNotFound
		case "NoSuchBucket":
			return ErrBucketMissing
		}
	}
	return err
}
