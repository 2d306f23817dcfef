package collector

import (
	"context"
	"net/http"
	"sync"
)

var process struct {
	mu        sync.RWMutex
	collector *Collector
}

// Initialize builds the process-wide collector. It must run before any
// client library constructs an HTTP client; otherwise it returns an
// *InitOrderError. Calls after a successful Initialize are no-ops.
func Initialize(opts Options) error {
	process.mu.Lock()
	defer process.mu.Unlock()
	if process.collector != nil {
		return nil
	}
	if err := takeInitOrderError(); err != nil {
		return err
	}
	c, err := New(context.Background(), opts)
	if err != nil {
		return err
	}
	process.collector = c
	return nil
}

// Default returns the process-wide collector, or nil before Initialize.
func Default() *Collector {
	process.mu.RLock()
	defer process.mu.RUnlock()
	return process.collector
}

// HTTPClient returns a capturing client from the default collector. Before
// Initialize it returns http.DefaultClient.
func HTTPClient() *http.Client {
	if c := Default(); c != nil {
		return c.HTTPClient()
	}
	return http.DefaultClient
}

// Flush flushes the default collector, if any.
func Flush() {
	if c := Default(); c != nil {
		c.Flush()
	}
}

// Shutdown shuts the default collector down. The collector stays installed
// so later Record calls are rejected rather than silently re-initialized.
func Shutdown(ctx context.Context) error {
	c := Default()
	if c == nil {
		return nil
	}
	return c.Shutdown(ctx)
}
