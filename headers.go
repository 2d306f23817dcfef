package collector

import (
	"net/http"
	"strings"

	"github.com/ongoingai/collector/internal/capture"
)

// HeaderName is the request header that tags a call. The collector removes
// it before the request is sent.
const HeaderName = capture.HeaderName

type (
	// FetchRequest describes one call made through Fetch. Headers may be an
	// http.Header, map[string][]string, map[string]string, []HeaderPair or
	// [][2]string.
	FetchRequest = capture.FetchRequest
	// FetchFunc is a fetch-style request function.
	FetchFunc = capture.FetchFunc
	// HeaderPair is one entry of an ordered header list.
	HeaderPair = capture.HeaderPair
)

// TagHeader returns a header map that tags a call with tag.
func TagHeader(tag string) map[string]string {
	return map[string]string{HeaderName: tag}
}

// AddTagHeader sets the tag header on h. A blank tag leaves h unchanged.
func AddTagHeader(h http.Header, tag string) {
	if h == nil || strings.TrimSpace(tag) == "" {
		return
	}
	h.Set(HeaderName, tag)
}
