// Package store persists samples as JSONL shards and maintains the call-site
// registry for local and bucket-backed data folders.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
)

// FileStore writes to data folders on the local filesystem.
type FileStore struct {
	logger *slog.Logger
	now    func() time.Time

	appendMu sync.Mutex

	registryMu sync.Mutex
	registries map[string]*cachedRegistry
}

type cachedRegistry struct {
	doc     *Registry
	modTime time.Time
	size    int64
}

func NewFileStore(logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileStore{
		logger:     logger,
		now:        time.Now,
		registries: make(map[string]*cachedRegistry),
	}
}

// AppendSamples appends samples to the active shard under <folder>/events.
func (s *FileStore) AppendSamples(ctx context.Context, folder string, samples []event.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeBatch(samples)
	if err != nil {
		return err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	dir := filepath.Join(folder, EventsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create events directory %q: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list events directory %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	path := filepath.Join(dir, pickShard(names, s.now()))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open shard %q: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("append shard %q: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close shard %q: %w", path, err)
	}
	s.logger.Debug("appended samples", "count", len(samples), "shard", path)
	return nil
}

// UpdateRegistry records one call at location in <folder>/_registry.json.
// The cached document is reloaded whenever the file changed on disk since
// this store last wrote it.
func (s *FileStore) UpdateRegistry(ctx context.Context, folder string, location callsite.Location, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := filepath.Abs(filepath.Join(folder, RegistryFileName))
	if err != nil {
		return fmt.Errorf("resolve registry path: %w", err)
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	cached := s.registries[path]
	info, statErr := os.Stat(path)
	if cached == nil || statErr != nil || !info.ModTime().Equal(cached.modTime) || info.Size() != cached.size {
		cached = &cachedRegistry{doc: s.readRegistry(path)}
	}

	entry := cached.doc.Touch(location, tag, s.now())
	data, err := cached.doc.Encode()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		delete(s.registries, path)
		return err
	}
	if info, err := os.Stat(path); err == nil {
		cached.modTime = info.ModTime()
		cached.size = info.Size()
	}
	s.registries[path] = cached

	s.logger.Debug("registry updated",
		"file", location.File,
		"line", location.LineNumber,
		"tag", entry.Tag,
		"count", entry.Count,
	)
	return nil
}

// LoadRegistry reads the registry document without caching it.
func (s *FileStore) LoadRegistry(ctx context.Context, folder string) (*Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(folder, RegistryFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return DecodeRegistry(data)
}

// readRegistry loads the document at path. Missing or malformed files yield
// a fresh document.
func (s *FileStore) readRegistry(path string) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("registry unreadable; starting fresh", "path", path, "error", err)
		}
		return NewRegistry()
	}
	doc, err := DecodeRegistry(data)
	if err != nil {
		s.logger.Warn("registry corrupt; starting fresh", "path", path, "error", err)
		return NewRegistry()
	}
	return doc
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close registry temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod registry temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace registry %q: %w", path, err)
	}
	return nil
}
