package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FetchRequest is the argument of a fetch-style call. Headers may be an
// http.Header, map[string][]string, map[string]string, []HeaderPair or
// [][2]string.
type FetchRequest struct {
	URL     string
	Method  string
	Headers any
	Body    io.Reader
}

// FetchFunc performs one request and returns the raw response.
type FetchFunc func(ctx context.Context, req FetchRequest) (*http.Response, error)

// ClientFetch builds a FetchFunc on top of client.
func ClientFetch(client *http.Client) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, req FetchRequest) (*http.Response, error) {
		if ctx == nil {
			ctx = context.Background()
		}
		method := strings.ToUpper(strings.TrimSpace(req.Method))
		if method == "" {
			method = http.MethodGet
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, req.Body)
		if err != nil {
			return nil, fmt.Errorf("build fetch request: %w", err)
		}
		applyHeaders(httpReq.Header, req.Headers)
		return client.Do(httpReq)
	}
}

func applyHeaders(dst http.Header, headers any) {
	switch typed := headers.(type) {
	case http.Header:
		for name, values := range typed {
			for _, value := range values {
				dst.Add(name, value)
			}
		}
	case map[string][]string:
		applyHeaders(dst, http.Header(typed))
	case map[string]string:
		for name, value := range typed {
			dst.Set(name, value)
		}
	case []HeaderPair:
		for _, pair := range typed {
			dst.Add(pair.Name, pair.Value)
		}
	case [][2]string:
		for _, pair := range typed {
			dst.Add(pair[0], pair[1])
		}
	}
}

// Fetcher decorates a FetchFunc with the same capture contract as Transport.
type Fetcher struct {
	next    FetchFunc
	capture *capturer
}

func NewFetcher(next FetchFunc, opts Options) *Fetcher {
	if next == nil {
		next = ClientFetch(nil)
	}
	return &Fetcher{next: next, capture: newCapturer(opts)}
}

func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*http.Response, error) {
	tag := ""
	if bag, ok := BagFor(cloneHeaders(req.Headers)); ok {
		if _, present := bag.Get(HeaderName); present {
			tag = PopTag(bag)
			req.Headers = bag.Value()
		}
	}

	if !f.capture.allowlist.AllowsRawURL(req.URL) {
		return f.next(ctx, req)
	}

	p := f.capture.begin(strings.ToUpper(strings.TrimSpace(req.Method)), req.URL, tag)
	if req.Body != nil {
		req.Body = p.tapFetchBody(req.Body)
	}

	resp, err := f.next(ctx, req)
	if err != nil || resp == nil {
		return resp, err
	}
	p.tapResponse(resp)
	return resp, nil
}

// Func exposes the decorated fetch as a plain FetchFunc.
func (f *Fetcher) Func() FetchFunc {
	return f.Fetch
}

type lengther interface {
	Len() int
}

// tapFetchBody captures an outgoing fetch body. In-memory bodies are copied
// up front and replaced with a bytes.Reader so http.NewRequest still derives
// Content-Length from them.
func (p *pending) tapFetchBody(body io.Reader) io.Reader {
	if _, ok := body.(lengther); ok {
		data, err := io.ReadAll(body)
		if err == nil {
			p.request.Add(data)
			return bytes.NewReader(data)
		}
		// Forward what was read, then surface the read error.
		p.request.Add(data)
		return io.MultiReader(bytes.NewReader(data), errReader{err: err})
	}
	return &readerTap{r: body, buf: p.request}
}

type readerTap struct {
	r   io.Reader
	buf *StreamBuffer
}

func (t *readerTap) Read(b []byte) (int, error) {
	n, err := t.r.Read(b)
	if n > 0 {
		t.buf.Add(b[:n])
	}
	return n, err
}

type errReader struct {
	err error
}

func (e errReader) Read([]byte) (int, error) {
	return 0, e.err
}

func cloneHeaders(headers any) any {
	switch typed := headers.(type) {
	case http.Header:
		return typed.Clone()
	case map[string][]string:
		if typed == nil {
			return typed
		}
		return map[string][]string(http.Header(typed).Clone())
	case map[string]string:
		out := make(map[string]string, len(typed))
		for name, value := range typed {
			out[name] = value
		}
		return out
	case []HeaderPair:
		return append([]HeaderPair(nil), typed...)
	case [][2]string:
		return append([][2]string(nil), typed...)
	default:
		return headers
	}
}
