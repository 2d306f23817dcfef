// Package capture implements the two interceptor peers: an http.RoundTripper
// decorator and a fetch-style function decorator. Both observe traffic to
// allow-listed hosts without altering what the application sends or receives,
// apart from removing the tag header.
package capture

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ongoingai/collector/internal/allowlist"
	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/internal/observability"
)

// Recorder receives each completed call. Record runs on the goroutine that
// finished consuming the response body.
type Recorder interface {
	Record(call *event.Call)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(call *event.Call)

func (f RecorderFunc) Record(call *event.Call) {
	f(call)
}

type Options struct {
	Allowlist    *allowlist.Allowlist
	Recorder     Recorder
	Resolver     *callsite.Resolver
	MaxBodyBytes int
	Logger       *slog.Logger
	Now          func() time.Time
}

type capturer struct {
	allowlist *allowlist.Allowlist
	recorder  Recorder
	resolver  *callsite.Resolver
	maxBytes  int
	logger    *slog.Logger
	now       func() time.Time
}

func newCapturer(opts Options) *capturer {
	c := &capturer{
		allowlist: opts.Allowlist,
		recorder:  opts.Recorder,
		resolver:  opts.Resolver,
		maxBytes:  opts.MaxBodyBytes,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if c.allowlist == nil {
		c.allowlist = allowlist.New(nil)
	}
	if c.resolver == nil {
		c.resolver = callsite.NewResolver()
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBodyBytes
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// pending tracks one allow-listed call from dispatch to body completion.
type pending struct {
	c       *capturer
	call    event.Call
	request *StreamBuffer
}

func (c *capturer) begin(method, rawURL, tag string) *pending {
	if method == "" {
		method = http.MethodGet
	}
	return &pending{
		c: c,
		call: event.Call{
			URL:          rawURL,
			Method:       method,
			Tag:          tag,
			Location:     c.resolver.Resolve(1),
			StartTime:    c.now(),
			IsLLMRequest: true,
		},
		request: NewStreamBuffer(c.maxBytes),
	}
}

func (p *pending) tapRequest(body io.ReadCloser) io.ReadCloser {
	return newTeeBody(body, p.request, nil)
}

// tapResponse swaps resp.Body for a tee that records the call once the
// application has consumed or closed the body.
func (p *pending) tapResponse(resp *http.Response) {
	p.call.Status = resp.StatusCode
	if resp.StatusCode == http.StatusSwitchingProtocols {
		return
	}
	response := NewStreamBuffer(p.c.maxBytes)
	if resp.Body == nil || resp.Body == http.NoBody {
		p.complete(response)
		return
	}
	resp.Body = newTeeBody(resp.Body, response, func() {
		p.complete(response)
	})
}

func (p *pending) complete(response *StreamBuffer) {
	defer func() {
		if r := recover(); r != nil {
			p.c.logger.Error("recording captured call panicked", "url", observability.ScrubURL(p.call.URL), "panic", r)
		}
	}()

	call := p.call
	call.EndTime = p.c.now()
	call.RequestBody = p.request.String()
	call.RequestTruncated = p.request.Truncated()
	call.ResponseBody = response.String()
	call.ResponseTruncated = response.Truncated()

	p.c.logger.Debug("captured call",
		"url", observability.ScrubURL(call.URL),
		"status", call.Status,
		"duration_ms", call.DurationMS(),
		"response_chunks", response.Count(),
		"request_truncated", call.RequestTruncated,
		"response_truncated", call.ResponseTruncated,
		"limit_bytes", p.c.maxBytes,
	)
	if p.c.recorder == nil {
		return
	}
	p.c.recorder.Record(&call)
}
