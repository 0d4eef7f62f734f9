package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/csvqa/csvqa/internal/storage"
)

func TestPutThenStatAgreeOnETag(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	payload := []byte("CID,name\n1,Ada\n")

	put, err := store.Put(context.Background(), "Customer.csv", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	stat, err := store.Stat(context.Background(), "Customer.csv")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if put.ETag == "" || put.ETag != stat.ETag {
		t.Fatalf("ETag put=%q stat=%q", put.ETag, stat.ETag)
	}
	if stat.Size != int64(len(payload)) {
		t.Fatalf("Size = %d", stat.Size)
	}

	reader, err := store.Get(context.Background(), "Customer.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	got, _ := io.ReadAll(reader)
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() = %q", got)
	}
}

func TestStatETagChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	path := filepath.Join(dir, "Detail.csv")

	if err := os.WriteFile(path, []byte("a\n1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	first, err := store.Stat(context.Background(), "Detail.csv")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("a\n2\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	second, err := store.Stat(context.Background(), "Detail.csv")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if first.ETag == second.ETag {
		t.Fatal("expected ETag to change with content")
	}
}

func TestMissingObject(t *testing.T) {
	store, _ := New(t.TempDir())
	if _, err := store.Stat(context.Background(), "Nope.csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Get(context.Background(), "Nope.csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	store, _ := New(t.TempDir())
	for _, key := range []string{"../secrets", "", "a/../../b"} {
		if _, err := store.Path(key); err == nil {
			t.Fatalf("Path(%q) expected error", key)
		}
	}
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty root")
	}
}
