// Package event defines the captured call record and the persisted sample.
package event

import (
	"strings"
	"time"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/providers"
)

// UntaggedRegistryTag is the registry tag recorded for calls without a tag.
const UntaggedRegistryTag = "untagged"

// Call is one observed HTTP exchange handed from an interceptor to the
// exporter. Bodies are raw text, possibly truncated at the capture limit.
type Call struct {
	URL          string
	Method       string
	Status       int
	RequestBody  string
	ResponseBody string
	StartTime    time.Time
	EndTime      time.Time
	Tag          string
	Location     callsite.Location
	IsLLMRequest bool

	RequestTruncated  bool
	ResponseTruncated bool
}

func (c *Call) StartTimeMS() int64 {
	return c.StartTime.UnixMilli()
}

func (c *Call) EndTimeMS() int64 {
	return c.EndTime.UnixMilli()
}

// DurationMS is the wall-clock duration, never negative.
func (c *Call) DurationMS() int64 {
	d := c.EndTimeMS() - c.StartTimeMS()
	if d < 0 {
		return 0
	}
	return d
}

// RegistryTag is the tag written to the call-site registry.
func (c *Call) RegistryTag() string {
	if tag := strings.TrimSpace(c.Tag); tag != "" {
		return tag
	}
	return UntaggedRegistryTag
}

// Sample is the persisted, normalized form of an LLM call. Field names match
// the JSONL schema read by downstream tooling.
type Sample struct {
	DurationMS  int64                     `json:"durationMs"`
	Tag         string                    `json:"tag"`
	Input       []providers.Message       `json:"input"`
	Output      *providers.ParsedResponse `json:"output"`
	Model       string                    `json:"model"`
	ModelParams map[string]any            `json:"modelParams"`
	StartTimeMS int64                     `json:"startTimeMs"`
	EndTimeMS   int64                     `json:"endTimeMs"`
	URL         string                    `json:"url"`
	Location    callsite.Location         `json:"location"`

	Provider string          `json:"-"`
	Usage    providers.Usage `json:"-"`
}

// DropReason explains why a call produced no sample.
type DropReason string

const (
	DropNone            DropReason = ""
	DropRequestUnparsed DropReason = "request_unparsed"
	DropOutputUnparsed  DropReason = "response_unparsed"
)

// NewSample parses both bodies of call. Either parse failing drops the call.
func NewSample(call *Call, registry *providers.Registry) (Sample, DropReason, bool) {
	if registry == nil {
		registry = providers.DefaultRegistry()
	}
	request, ok := registry.ParseRequestBody(call.RequestBody)
	if !ok {
		return Sample{}, DropRequestUnparsed, false
	}
	response, ok := registry.ParseResponseBody(call.ResponseBody)
	if !ok {
		return Sample{}, DropOutputUnparsed, false
	}

	model := request.Model
	if strings.HasSuffix(model, "/unknown") {
		if fromURL := providers.ModelFromURL(call.URL); fromURL != "" {
			model = fromURL
		}
	}
	location := call.Location
	if location.File == "" {
		location = callsite.Unknown
	}
	params := request.ModelParams
	if params == nil {
		params = map[string]any{}
	}
	provider := request.Provider
	if p, ok := registry.ForURL(call.URL); ok {
		provider = p.Name()
	}

	return Sample{
		DurationMS:  call.DurationMS(),
		Tag:         strings.TrimSpace(call.Tag),
		Input:       request.Messages,
		Output:      response,
		Model:       model,
		ModelParams: params,
		StartTimeMS: call.StartTimeMS(),
		EndTimeMS:   call.EndTimeMS(),
		URL:         RedactURL(call.URL),
		Location:    location,
		Provider:    provider,
		Usage:       response.Usage,
	}, DropNone, true
}
