package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BlobStore writes to data folders addressed by bucket URL (s3://, gs://,
// file://, mem://). Objects cannot be appended to, so shard appends are a
// read-modify-write of the whole object.
type BlobStore struct {
	logger *slog.Logger
	now    func() time.Time
	open   func(ctx context.Context, url string) (*blob.Bucket, error)

	// mu serializes read-modify-write cycles within this process.
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

func NewBlobStore(logger *slog.Logger) *BlobStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BlobStore{
		logger:  logger,
		now:     time.Now,
		open:    blob.OpenBucket,
		buckets: make(map[string]*blob.Bucket),
	}
}

// bucket returns the cached bucket for folder; mu must be held.
func (s *BlobStore) bucket(ctx context.Context, folder string) (*blob.Bucket, error) {
	if b, ok := s.buckets[folder]; ok {
		return b, nil
	}
	b, err := s.open(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", folder, err)
	}
	s.buckets[folder] = b
	return b, nil
}

func (s *BlobStore) AppendSamples(ctx context.Context, folder string, samples []event.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	data, err := encodeBatch(samples)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucket(ctx, folder)
	if err != nil {
		return err
	}
	names, err := listShards(ctx, b)
	if err != nil {
		return err
	}
	key := EventsDir + "/" + pickShard(names, s.now())

	existing, err := b.ReadAll(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("read shard %q: %w", key, err)
	}
	combined := make([]byte, 0, len(existing)+len(data))
	combined = append(combined, existing...)
	combined = append(combined, data...)
	if err := b.WriteAll(ctx, key, combined, &blob.WriterOptions{ContentType: "application/x-ndjson"}); err != nil {
		return fmt.Errorf("write shard %q: %w", key, err)
	}
	s.logger.Debug("appended samples", "count", len(samples), "shard", key)
	return nil
}

func listShards(ctx context.Context, b *blob.Bucket) ([]string, error) {
	prefix := EventsDir + "/"
	iter := b.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list shards: %w", err)
		}
		if obj.IsDir {
			continue
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
}

func (s *BlobStore) UpdateRegistry(ctx context.Context, folder string, location callsite.Location, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucket(ctx, folder)
	if err != nil {
		return err
	}
	doc, err := readBlobRegistry(ctx, b)
	if err != nil {
		if gcerrors.Code(err) != gcerrors.NotFound {
			s.logger.Warn("registry unreadable; starting fresh", "folder", folder, "error", err)
		}
		doc = NewRegistry()
	}

	entry := doc.Touch(location, tag, s.now())
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if err := b.WriteAll(ctx, RegistryFileName, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	s.logger.Debug("registry updated",
		"file", location.File,
		"line", location.LineNumber,
		"tag", entry.Tag,
		"count", entry.Count,
	)
	return nil
}

func (s *BlobStore) LoadRegistry(ctx context.Context, folder string) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucket(ctx, folder)
	if err != nil {
		return nil, err
	}
	doc, err := readBlobRegistry(ctx, b)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return NewRegistry(), nil
	}
	return doc, err
}

func readBlobRegistry(ctx context.Context, b *blob.Bucket) (*Registry, error) {
	data, err := b.ReadAll(ctx, RegistryFileName)
	if err != nil {
		return nil, err
	}
	return DecodeRegistry(data)
}

// Close releases every opened bucket.
func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for folder, b := range s.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %q: %w", folder, err))
		}
		delete(s.buckets, folder)
	}
	return errors.Join(errs...)
}
