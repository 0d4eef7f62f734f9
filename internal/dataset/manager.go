package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/csvqa/csvqa/internal/nl2sql"
	"github.com/csvqa/csvqa/internal/observability"
	"github.com/csvqa/csvqa/internal/query"
	"github.com/csvqa/csvqa/internal/storage"
)

const reloadTimeout = 2 * time.Minute

// Loader receives fully materialized table files; duckdb.Engine implements it.
type Loader interface {
	Load(ctx context.Context, files []query.TableFile) error
}

// localPather is implemented by stores whose objects are already files.
type localPather interface {
	Path(key string) (string, error)
}

type FileStatus struct {
	Table string    `json:"table"`
	Key   string    `json:"key"`
	ETag  string    `json:"etag"`
	Size  int64     `json:"size"`
	Seen  time.Time `json:"last_modified"`
}

// Manager owns the dataset lifecycle: the initial load, change detection by
// ETag, and reloads. Reloads triggered concurrently collapse into one.
type Manager struct {
	store  storage.ObjectStore
	loader Loader
	format string
	tables []string
	logger *slog.Logger

	reloads singleflight.Group

	mu       sync.RWMutex
	files    map[string]FileStatus
	loadedAt time.Time
}

func NewManager(store storage.ObjectStore, loader Loader, format string, logger *slog.Logger) *Manager {
	if format == "" {
		format = storage.FormatCSV
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		loader: loader,
		format: format,
		tables: append([]string(nil), nl2sql.Tables...),
		logger: logger,
		files:  map[string]FileStatus{},
	}
}

// Load unconditionally (re)builds the engine from the current files.
func (m *Manager) Load(ctx context.Context) error {
	statuses, err := m.statAll(ctx)
	if err != nil {
		observability.ObserveDatasetReload("failed", time.Time{})
		return err
	}
	if err := m.load(ctx, statuses); err != nil {
		observability.ObserveDatasetReload("failed", time.Time{})
		return err
	}
	return nil
}

// ReloadIfChanged reloads when any file's ETag differs from the loaded one.
// It reports whether a reload happened.
func (m *Manager) ReloadIfChanged(ctx context.Context) (bool, error) {
	value, err, _ := m.reloads.Do("reload", func() (any, error) {
		// the reload is shared by every waiting caller, so one caller going
		// away must not cancel it for the others
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
		defer cancel()

		statuses, err := m.statAll(ctx)
		if err != nil {
			return false, err
		}
		if !m.changed(statuses) {
			observability.ObserveDatasetReload("unchanged", time.Time{})
			return false, nil
		}
		if err := m.load(ctx, statuses); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		observability.ObserveDatasetReload("failed", time.Time{})
		m.logger.ErrorContext(ctx, "dataset_reload_failed", slog.Any("error", err))
		return false, err
	}
	return value.(bool), nil
}

// Files lists the tracked files in table order.
func (m *Manager) Files() []FileStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FileStatus, 0, len(m.tables))
	for _, table := range m.tables {
		if status, ok := m.files[table]; ok {
			out = append(out, status)
		}
	}
	return out
}

func (m *Manager) LoadedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadedAt
}

func (m *Manager) Location() string {
	return m.store.Location()
}

func (m *Manager) statAll(ctx context.Context) (map[string]FileStatus, error) {
	statuses := make(map[string]FileStatus, len(m.tables))
	for _, table := range m.tables {
		key, err := storage.DatasetKey(table, m.format)
		if err != nil {
			return nil, err
		}
		info, err := m.store.Stat(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, fmt.Errorf("dataset file %q missing in %s: %w", key, m.store.Location(), err)
			}
			return nil, fmt.Errorf("stat dataset file %q: %w", key, err)
		}
		statuses[table] = FileStatus{Table: table, Key: key, ETag: info.ETag, Size: info.Size, Seen: info.LastModified}
	}
	return statuses, nil
}

func (m *Manager) changed(statuses map[string]FileStatus) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.files) != len(statuses) {
		return true
	}
	for table, status := range statuses {
		if previous, ok := m.files[table]; !ok || previous.ETag != status.ETag {
			return true
		}
	}
	return false
}

func (m *Manager) load(ctx context.Context, statuses map[string]FileStatus) error {
	files, cleanup, err := m.materialize(ctx, statuses)
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	if err := m.loader.Load(ctx, files); err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	loadedAt := time.Now().UTC()

	m.mu.Lock()
	m.files = statuses
	m.loadedAt = loadedAt
	m.mu.Unlock()

	observability.ObserveDatasetReload("loaded", loadedAt)
	m.logger.InfoContext(ctx, "dataset_loaded",
		slog.String("location", m.store.Location()),
		slog.String("format", m.format),
		slog.Int("tables", len(files)),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}

// materialize returns local paths for every table, downloading remote objects
// into a temp dir that cleanup removes.
func (m *Manager) materialize(ctx context.Context, statuses map[string]FileStatus) ([]query.TableFile, func(), error) {
	noop := func() {}
	files := make([]query.TableFile, 0, len(m.tables))

	if pather, ok := m.store.(localPather); ok {
		for _, table := range m.tables {
			path, err := pather.Path(statuses[table].Key)
			if err != nil {
				return nil, noop, err
			}
			files = append(files, query.TableFile{TableName: table, Path: path, Format: m.format})
		}
		return files, noop, nil
	}

	workDir, err := os.MkdirTemp("", "csvqa-dataset-")
	if err != nil {
		return nil, noop, fmt.Errorf("create dataset temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	for _, table := range m.tables {
		key := statuses[table].Key
		reader, err := m.store.Get(ctx, key)
		if err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("get dataset file %q: %w", key, err)
		}
		localPath := filepath.Join(workDir, filepath.Base(key))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			cleanup()
			return nil, noop, fmt.Errorf("write local copy of %q: %w", key, err)
		}
		if err := reader.Close(); err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("close dataset file %q: %w", key, err)
		}
		files = append(files, query.TableFile{TableName: table, Path: localPath, Format: m.format})
	}
	return files, cleanup, nil
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}
