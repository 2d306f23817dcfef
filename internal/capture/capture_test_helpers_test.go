package capture

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/ongoingai/collector/internal/allowlist"
	"github.com/ongoingai/collector/internal/event"
)

type collectingRecorder struct {
	mu    sync.Mutex
	calls []*event.Call
}

func (r *collectingRecorder) Record(call *event.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *collectingRecorder) snapshot() []*event.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Call(nil), r.calls...)
}

type seenRequest struct {
	header        http.Header
	body          string
	contentLength int64
}

// newEchoServer returns a server that records what it received and answers
// with body.
func newEchoServer(t *testing.T, contentType, body string) (*httptest.Server, func() []seenRequest) {
	t.Helper()

	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := make([]byte, 0, 512)
		buf := make([]byte, 512)
		for {
			n, err := r.Body.Read(buf)
			raw = append(raw, buf[:n]...)
			if err != nil {
				break
			}
		}
		mu.Lock()
		seen = append(seen, seenRequest{header: r.Header.Clone(), body: string(raw), contentLength: r.ContentLength})
		mu.Unlock()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Upstream", "yes")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, func() []seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]seenRequest(nil), seen...)
	}
}

func allowServer(t *testing.T, server *httptest.Server) *allowlist.Allowlist {
	t.Helper()
	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return allowlist.New([]string{parsed.Hostname()})
}
