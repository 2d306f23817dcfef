// Package allowlist decides which destinations count as LLM calls.
package allowlist

import (
	"net/url"
	"sort"
	"strings"
)

// Allowlist matches hostnames exactly, case-insensitively, ignoring ports.
type Allowlist struct {
	hosts map[string]struct{}
}

func New(hosts []string) *Allowlist {
	list := &Allowlist{hosts: make(map[string]struct{}, len(hosts))}
	for _, host := range hosts {
		host = normalizeHost(host)
		if host == "" {
			continue
		}
		list.hosts[host] = struct{}{}
	}
	return list
}

func (a *Allowlist) Allows(host string) bool {
	if a == nil {
		return false
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	_, ok := a.hosts[host]
	return ok
}

func (a *Allowlist) AllowsURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	return a.Allows(u.Hostname())
}

// AllowsRawURL parses raw and reports whether its host is allowed. Strings that
// do not parse as absolute URLs are never allowed.
func (a *Allowlist) AllowsRawURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return a.AllowsURL(parsed)
}

func (a *Allowlist) Hosts() []string {
	if a == nil {
		return nil
	}
	hosts := make([]string, 0, len(a.hosts))
	for host := range a.hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if strings.HasPrefix(host, "[") {
		if end := strings.IndexByte(host, ']'); end > 0 {
			return host[1:end]
		}
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}
	return host
}
