package capture

import (
	"net/http"
	"strings"
)

// HeaderName carries the optional application tag on outbound requests. It is
// always stripped before the request leaves the process.
const HeaderName = "X-OngoingAI-Tag"

// HeaderPair is one entry of an ordered header list.
type HeaderPair struct {
	Name  string
	Value string
}

// HeaderBag gives uniform case-insensitive access to the header
// representations applications hand to a fetch function.
type HeaderBag interface {
	Get(name string) (string, bool)
	// Remove deletes every entry whose name matches, in any letter case.
	Remove(name string)
	// Value returns the headers in their original representation.
	Value() any
}

// BagFor wraps a supported header representation. Unsupported values report
// false and are passed through untouched.
func BagFor(headers any) (HeaderBag, bool) {
	switch typed := headers.(type) {
	case http.Header:
		return headerBag(typed), typed != nil
	case map[string][]string:
		return multiMapBag(typed), typed != nil
	case map[string]string:
		return mapBag(typed), typed != nil
	case []HeaderPair:
		return &pairBag{pairs: typed}, true
	case [][2]string:
		return &arrayBag{pairs: typed}, true
	default:
		return nil, false
	}
}

// PopTag returns the tag header value and removes it from bag. An empty
// string means no tag was present.
func PopTag(bag HeaderBag) string {
	if bag == nil {
		return ""
	}
	value, ok := bag.Get(HeaderName)
	if !ok {
		return ""
	}
	bag.Remove(HeaderName)
	return strings.TrimSpace(value)
}

type headerBag http.Header

func (h headerBag) Get(name string) (string, bool) {
	for key, values := range h {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

func (h headerBag) Remove(name string) {
	for key := range h {
		if strings.EqualFold(key, name) {
			delete(h, key)
		}
	}
}

func (h headerBag) Value() any {
	return http.Header(h)
}

// multiMapBag keeps a plain map[string][]string in its own type.
type multiMapBag map[string][]string

func (m multiMapBag) Get(name string) (string, bool) { return headerBag(m).Get(name) }

func (m multiMapBag) Remove(name string) { headerBag(m).Remove(name) }

func (m multiMapBag) Value() any {
	return map[string][]string(m)
}

type mapBag map[string]string

func (m mapBag) Get(name string) (string, bool) {
	for key, value := range m {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

func (m mapBag) Remove(name string) {
	for key := range m {
		if strings.EqualFold(key, name) {
			delete(m, key)
		}
	}
}

func (m mapBag) Value() any {
	return map[string]string(m)
}

type pairBag struct {
	pairs []HeaderPair
}

func (p *pairBag) Get(name string) (string, bool) {
	for _, pair := range p.pairs {
		if strings.EqualFold(pair.Name, name) {
			return pair.Value, true
		}
	}
	return "", false
}

func (p *pairBag) Remove(name string) {
	kept := make([]HeaderPair, 0, len(p.pairs))
	for _, pair := range p.pairs {
		if !strings.EqualFold(pair.Name, name) {
			kept = append(kept, pair)
		}
	}
	p.pairs = kept
}

func (p *pairBag) Value() any {
	return p.pairs
}

type arrayBag struct {
	pairs [][2]string
}

func (a *arrayBag) Get(name string) (string, bool) {
	for _, pair := range a.pairs {
		if strings.EqualFold(pair[0], name) {
			return pair[1], true
		}
	}
	return "", false
}

func (a *arrayBag) Remove(name string) {
	kept := make([][2]string, 0, len(a.pairs))
	for _, pair := range a.pairs {
		if !strings.EqualFold(pair[0], name) {
			kept = append(kept, pair)
		}
	}
	a.pairs = kept
}

func (a *arrayBag) Value() any {
	return a.pairs
}

// stripTag removes the tag header from an http.Header in place.
func stripTag(h http.Header) (string, bool) {
	if h == nil {
		return "", false
	}
	bag := headerBag(h)
	if _, ok := bag.Get(HeaderName); !ok {
		return "", false
	}
	return PopTag(bag), true
}
