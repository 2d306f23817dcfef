// Package clients builds provider SDK clients that send their traffic
// through the collector.
//
// Construct clients after collector.Initialize (or pass WithCollector).
// A client built before that uses http.DefaultClient and is reported by the
// next Initialize as loaded too early.
package clients

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiofficial "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	goopenai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/ongoingai/collector"
)

// Library names reported by collector.InitOrderError.
const (
	LibraryGoOpenAI     = "github.com/sashabaranov/go-openai"
	LibraryOpenAIGo     = "github.com/openai/openai-go"
	LibraryAnthropicSDK = "github.com/anthropics/anthropic-sdk-go"
	LibraryGenAI        = "google.golang.org/genai"
)

type settings struct {
	collector *collector.Collector
	tag       string
	baseURL   string
}

// Option configures a client constructor.
type Option func(*settings)

// WithCollector uses c instead of the process-wide default collector.
func WithCollector(c *collector.Collector) Option {
	return func(s *settings) {
		s.collector = c
	}
}

// WithTag tags every call made by the client.
func WithTag(tag string) Option {
	return func(s *settings) {
		s.tag = strings.TrimSpace(tag)
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		s.baseURL = strings.TrimSpace(baseURL)
	}
}

func resolve(library string, opts []Option) (settings, *http.Client) {
	var s settings
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.collector == nil {
		s.collector = collector.Default()
	}

	var client *http.Client
	if s.collector != nil {
		client = s.collector.HTTPClient()
	} else {
		collector.NoteClientLibrary(library)
		client = http.DefaultClient
	}
	if s.tag == "" {
		return s, client
	}

	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	tagged := *client
	tagged.Transport = &tagTransport{next: next, tag: s.tag}
	return s, &tagged
}

// tagTransport adds the tag header ahead of the capturing transport, which
// removes it again before the request is sent.
type tagTransport struct {
	next http.RoundTripper
	tag  string
}

func (t *tagTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	collector.AddTagHeader(clone.Header, t.tag)
	return t.next.RoundTrip(clone)
}

// OpenAI returns a github.com/sashabaranov/go-openai client.
func OpenAI(apiKey string, opts ...Option) *goopenai.Client {
	s, httpClient := resolve(LibraryGoOpenAI, opts)
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.HTTPClient = httpClient
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	return goopenai.NewClientWithConfig(cfg)
}

// OpenAIOfficial returns a github.com/openai/openai-go client.
func OpenAIOfficial(apiKey string, opts ...Option) openaiofficial.Client {
	s, httpClient := resolve(LibraryOpenAIGo, opts)
	requestOpts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithHTTPClient(httpClient),
	}
	if s.baseURL != "" {
		requestOpts = append(requestOpts, openaioption.WithBaseURL(s.baseURL))
	}
	return openaiofficial.NewClient(requestOpts...)
}

// Anthropic returns a github.com/anthropics/anthropic-sdk-go client.
func Anthropic(apiKey string, opts ...Option) anthropic.Client {
	s, httpClient := resolve(LibraryAnthropicSDK, opts)
	requestOpts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithHTTPClient(httpClient),
	}
	if s.baseURL != "" {
		requestOpts = append(requestOpts, anthropicoption.WithBaseURL(s.baseURL))
	}
	return anthropic.NewClient(requestOpts...)
}

// Gemini returns a google.golang.org/genai client for the Gemini API.
func Gemini(ctx context.Context, apiKey string, opts ...Option) (*genai.Client, error) {
	s, httpClient := resolve(LibraryGenAI, opts)
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if s.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}
