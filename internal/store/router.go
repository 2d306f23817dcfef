package store

import (
	"context"
	"log/slog"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/internal/pathutil"
)

// Backend is the storage contract shared by every data-folder form.
type Backend interface {
	AppendSamples(ctx context.Context, folder string, samples []event.Sample) error
	UpdateRegistry(ctx context.Context, folder string, location callsite.Location, tag string) error
	LoadRegistry(ctx context.Context, folder string) (*Registry, error)
}

// Router sends URL data folders to the bucket store and paths to the file
// store.
type Router struct {
	Files *FileStore
	Blobs *BlobStore
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		Files: NewFileStore(logger),
		Blobs: NewBlobStore(logger),
	}
}

func (r *Router) backend(folder string) Backend {
	if pathutil.IsRemote(folder) {
		return r.Blobs
	}
	return r.Files
}

func (r *Router) AppendSamples(ctx context.Context, folder string, samples []event.Sample) error {
	return r.backend(folder).AppendSamples(ctx, folder, samples)
}

func (r *Router) UpdateRegistry(ctx context.Context, folder string, location callsite.Location, tag string) error {
	return r.backend(folder).UpdateRegistry(ctx, folder, location, tag)
}

func (r *Router) LoadRegistry(ctx context.Context, folder string) (*Registry, error) {
	return r.backend(folder).LoadRegistry(ctx, folder)
}

func (r *Router) Close() error {
	return r.Blobs.Close()
}
