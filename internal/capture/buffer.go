package capture

import (
	"bytes"
	"io"
	"sync"
)

// DefaultMaxBodyBytes caps how much of each body is retained for a sample.
const DefaultMaxBodyBytes = 2 << 20

// StreamBuffer keeps a bounded copy of bytes as they pass through a body.
// The transport may write a request body from its own goroutine while the
// caller's goroutine finalizes the record, so access is serialized.
type StreamBuffer struct {
	mu        sync.Mutex
	maxBytes  int
	body      bytes.Buffer
	chunks    int
	truncated bool
}

func NewStreamBuffer(maxBytes int) *StreamBuffer {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &StreamBuffer{maxBytes: maxBytes}
}

// Add copies chunk into the buffer, dropping whatever exceeds the limit.
func (b *StreamBuffer) Add(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks++
	remaining := b.maxBytes - b.body.Len()
	if remaining <= 0 {
		if len(chunk) > 0 {
			b.truncated = true
		}
		return
	}
	if len(chunk) > remaining {
		b.truncated = true
		chunk = chunk[:remaining]
	}
	_, _ = b.body.Write(chunk)
}

// Reset discards captured bytes, used when a request body is replayed.
func (b *StreamBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.body.Reset()
	b.chunks = 0
	b.truncated = false
}

func (b *StreamBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.body.String()
}

func (b *StreamBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

func (b *StreamBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// teeBody mirrors everything the consumer reads into buf and reports
// completion exactly once: at EOF, on a read error, or on Close.
type teeBody struct {
	rc     io.ReadCloser
	buf    *StreamBuffer
	once   sync.Once
	onDone func()
}

func newTeeBody(rc io.ReadCloser, buf *StreamBuffer, onDone func()) *teeBody {
	return &teeBody{rc: rc, buf: buf, onDone: onDone}
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 {
		t.buf.Add(p[:n])
	}
	if err != nil {
		t.finish()
	}
	return n, err
}

func (t *teeBody) Close() error {
	err := t.rc.Close()
	t.finish()
	return err
}

func (t *teeBody) finish() {
	t.once.Do(func() {
		if t.onDone != nil {
			t.onDone()
		}
	})
}
