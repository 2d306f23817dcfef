package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ongoingai/collector/internal/event"
)

const chatCompletionResponse = `{
	"id":"chatcmpl-test",
	"object":"chat.completion",
	"created":1700000000,
	"model":"gpt-4o-mini",
	"choices":[{"index":0,"message":{"role":"assistant","content":"hello from upstream"},"finish_reason":"stop"}],
	"usage":{"prompt_tokens":5,"completion_tokens":4,"total_tokens":9}
}`

// upstream is a fake provider endpoint that remembers request headers.
type upstream struct {
	*httptest.Server

	mu      sync.Mutex
	headers []http.Header
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		u.mu.Lock()
		u.headers = append(u.headers, r.Header.Clone())
		u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionResponse))
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) requestHeaders() []http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]http.Header(nil), u.headers...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testOptions points at a config file that does not exist so only the
// options and defaults apply.
func testOptions(t *testing.T, hosts ...string) Options {
	t.Helper()

	dir := t.TempDir()
	return Options{
		ConfigPath:       filepath.Join(dir, "missing.yaml"),
		FlushImmediately: true,
		DataFolder:       filepath.Join(dir, "data"),
		HostAllowlist:    hosts,
		Logger:           quietLogger(),
	}
}

func newTestCollector(t *testing.T, opts Options) *Collector {
	t.Helper()

	c, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func readSamples(t *testing.T, folder string) []event.Sample {
	t.Helper()

	shards, err := filepath.Glob(filepath.Join(folder, "events", "*.jsonl"))
	if err != nil {
		t.Fatalf("glob shards: %v", err)
	}
	var samples []event.Sample
	for _, shard := range shards {
		f, err := os.Open(shard)
		if err != nil {
			t.Fatalf("open shard: %v", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for scanner.Scan() {
			var sample event.Sample
			if err := json.Unmarshal(scanner.Bytes(), &sample); err != nil {
				_ = f.Close()
				t.Fatalf("decode sample line %q: %v", scanner.Text(), err)
			}
			samples = append(samples, sample)
		}
		if err := scanner.Err(); err != nil {
			_ = f.Close()
			t.Fatalf("scan shard: %v", err)
		}
		_ = f.Close()
	}
	return samples
}

// resetDefault clears the process-wide collector between tests.
func resetDefault(t *testing.T) {
	t.Helper()

	process.mu.Lock()
	c := process.collector
	process.collector = nil
	process.mu.Unlock()

	earlyLibraries.mu.Lock()
	earlyLibraries.names = nil
	earlyLibraries.mu.Unlock()

	if c != nil {
		_ = c.Shutdown(context.Background())
	}
}
