package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
)

// SampleIndex receives a copy of every batch the primary store accepted.
type SampleIndex interface {
	IndexSamples(ctx context.Context, folder string, samples []event.Sample) error
	ListSamples(ctx context.Context, filter SampleFilter) ([]IndexedSample, error)
	ModelStats(ctx context.Context, filter SampleFilter) ([]ModelStats, error)
	Close() error
}

// SampleFilter narrows ListSamples. Zero values match everything.
type SampleFilter struct {
	DataFolder string
	Tag        string
	Model      string
	Provider   string
	Limit      int
}

const defaultListLimit = 100

func (f SampleFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// ModelStats aggregates indexed samples per provider and model.
type ModelStats struct {
	Provider      string
	Model         string
	RequestCount  int64
	AvgDurationMS float64
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
}

// IndexedSample is one row of a sample index.
type IndexedSample struct {
	ID         int64
	DataFolder string
	Provider   string
	Sample     event.Sample
}

// Mirrored writes to Primary and then copies accepted batches into every
// mirror. Mirror failures are logged and never fail the write.
type Mirrored struct {
	Primary Backend
	Mirrors []SampleIndex
	Logger  *slog.Logger
}

func (m *Mirrored) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger
}

func (m *Mirrored) AppendSamples(ctx context.Context, folder string, samples []event.Sample) error {
	if err := m.Primary.AppendSamples(ctx, folder, samples); err != nil {
		return err
	}
	for _, mirror := range m.Mirrors {
		if err := mirror.IndexSamples(ctx, folder, samples); err != nil {
			m.logger().Warn("sample mirror write failed", "count", len(samples), "error", err)
		}
	}
	return nil
}

func (m *Mirrored) UpdateRegistry(ctx context.Context, folder string, location callsite.Location, tag string) error {
	return m.Primary.UpdateRegistry(ctx, folder, location, tag)
}

func (m *Mirrored) LoadRegistry(ctx context.Context, folder string) (*Registry, error) {
	return m.Primary.LoadRegistry(ctx, folder)
}

// Close closes every mirror and the primary when it holds resources.
func (m *Mirrored) Close() error {
	var errs []error
	for _, mirror := range m.Mirrors {
		if err := mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sample mirror: %w", err))
		}
	}
	if closer, ok := m.Primary.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
