package capture

import (
	"io"
	"net/http"
)

// Transport decorates a base RoundTripper. Requests to allow-listed hosts are
// recorded; every request loses its tag header.
type Transport struct {
	Base http.RoundTripper

	capture *capturer
}

func NewTransport(base http.RoundTripper, opts Options) *Transport {
	return &Transport{Base: base, capture: newCapturer(opts)}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base()
	if req == nil {
		return base.RoundTrip(req)
	}
	if t.capture == nil {
		t.capture = newCapturer(Options{})
	}

	// RoundTrippers must not mutate the caller's request; work on a clone
	// whenever anything needs to change.
	outbound := req
	tag := ""
	if _, ok := headerBag(req.Header).Get(HeaderName); ok {
		outbound = req.Clone(req.Context())
		tag, _ = stripTag(outbound.Header)
	}

	if !t.capture.allowlist.AllowsURL(req.URL) {
		return base.RoundTrip(outbound)
	}

	p := t.capture.begin(req.Method, req.URL.String(), tag)
	if outbound.Body != nil && outbound.Body != http.NoBody {
		if outbound == req {
			outbound = req.Clone(req.Context())
		}
		outbound.Body = p.tapRequest(outbound.Body)
		if req.GetBody != nil {
			getBody := req.GetBody
			outbound.GetBody = func() (io.ReadCloser, error) {
				body, err := getBody()
				if err != nil {
					return nil, err
				}
				p.request.Reset()
				return p.tapRequest(body), nil
			}
		}
	}

	resp, err := base.RoundTrip(outbound)
	if err != nil || resp == nil {
		return resp, err
	}
	p.tapResponse(resp)
	return resp, nil
}

// CloseIdleConnections forwards to the base transport when supported.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if closer, ok := t.base().(closeIdler); ok {
		closer.CloseIdleConnections()
	}
}
