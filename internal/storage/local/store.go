package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/csvqa/csvqa/internal/storage"
)

// Store serves dataset files from a directory. Stat hashes the file content,
// so the ETag changes exactly when the bytes change.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("dataset directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve dataset directory %q: %w", root, err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Location() string {
	return "file://" + filepath.ToSlash(s.root)
}

// Path returns the local path of key without touching the filesystem.
func (s *Store) Path(key string) (string, error) {
	return s.resolve(key)
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, _ int64) (storage.ObjectInfo, error) {
	target, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create directory for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create temp file for %q: %w", key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if err != nil {
		_ = tmp.Close()
		return storage.ObjectInfo{}, fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("close %q: %w", key, err)
	}
	// rename keeps readers from ever seeing a partially written file
	if err := os.Rename(tmpName, target); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("publish %q: %w", key, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %q: %w", key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         written,
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		LastModified: info.ModTime().UTC(),
	}, nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	return file, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	reader, err := s.Get(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	defer func() { _ = reader.Close() }()

	hasher := sha256.New()
	size, err := io.Copy(hasher, reader)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("hash %q: %w", key, err)
	}
	info, err := reader.(*os.File).Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %q: %w", key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         size,
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		LastModified: info.ModTime().UTC(),
	}, nil
}

func (s *Store) resolve(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(filepath.ToSlash(key), "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
