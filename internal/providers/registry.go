package providers

import (
	"net/url"
	"sort"
	"strings"
)

// Registry holds providers in match order; earlier providers win when
// request shapes overlap.
type Registry struct {
	ordered   []Provider
	providers map[string]Provider
	byHost    map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{
		ordered:   make([]Provider, 0, len(providers)),
		providers: make(map[string]Provider, len(providers)),
		byHost:    make(map[string]Provider),
	}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		registry.ordered = append(registry.ordered, provider)
		registry.providers[provider.Name()] = provider
		for _, host := range provider.Hosts() {
			registry.byHost[strings.ToLower(host)] = provider
		}
	}
	return registry
}

var defaultRegistry = NewRegistry(GeminiProvider{}, AnthropicProvider{}, OpenAIProvider{})

func DefaultRegistry() *Registry {
	return defaultRegistry
}

// DefaultHosts returns the hostnames of the built-in providers.
func DefaultHosts() []string {
	return defaultRegistry.Hosts()
}

func (r *Registry) Get(name string) (Provider, bool) {
	provider, ok := r.providers[name]
	return provider, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Hosts() []string {
	hosts := make([]string, 0, len(r.byHost))
	for host := range r.byHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// ForURL returns the provider that owns the URL's host.
func (r *Registry) ForURL(raw string) (Provider, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	provider, ok := r.byHost[strings.ToLower(parsed.Hostname())]
	return provider, ok
}

func ParseRequestBody(raw string) (*ParsedRequest, bool) {
	return defaultRegistry.ParseRequestBody(raw)
}

func ParseResponseBody(raw string) (*ParsedResponse, bool) {
	return defaultRegistry.ParseResponseBody(raw)
}
