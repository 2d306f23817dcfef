package providers

import "strings"

// ParseResponseBody normalizes a complete JSON response or an SSE stream into
// a single content string.
func (r *Registry) ParseResponseBody(raw string) (*ParsedResponse, bool) {
	text := strings.TrimSpace(string(decodeBody([]byte(raw))))
	if text == "" {
		return nil, false
	}
	if looksLikeSSE(text) {
		return r.parseStream(text)
	}

	value, ok := parseJSONValue(EscapeBareNewlines(text))
	if !ok {
		return nil, false
	}
	switch typed := value.(type) {
	case map[string]any:
		return r.parseObject(typed)
	case []any:
		return r.parseArrayStream(typed)
	default:
		return nil, false
	}
}

func (r *Registry) parseObject(payload map[string]any) (*ParsedResponse, bool) {
	switch content := payload["content"].(type) {
	case string:
		return &ParsedResponse{Content: content, Usage: r.usage(payload)}, true
	case map[string]any:
		if text, ok := content["content"].(string); ok {
			return &ParsedResponse{Content: text, Usage: r.usage(payload)}, true
		}
	}

	for _, provider := range r.ordered {
		content, ok := provider.ResponseContent(payload)
		if !ok {
			continue
		}
		return &ParsedResponse{
			Content:  content,
			Usage:    provider.Usage(payload),
			Provider: provider.Name(),
		}, true
	}
	return nil, false
}

// parseArrayStream handles streams delivered as one JSON array of chunks.
func (r *Registry) parseArrayStream(items []any) (*ParsedResponse, bool) {
	var (
		b       strings.Builder
		out     ParsedResponse
		matched bool
	)
	for _, item := range items {
		event, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if r.applyDelta(event, &b, &out) {
			matched = true
		}
	}
	if !matched {
		return nil, false
	}
	out.Content = b.String()
	return &out, true
}

func (r *Registry) parseStream(text string) (*ParsedResponse, bool) {
	var (
		b       strings.Builder
		out     ParsedResponse
		matched bool
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		event, ok := parseJSONMap([]byte(data))
		if !ok {
			continue
		}
		if r.applyDelta(event, &b, &out) {
			matched = true
		}
	}
	if !matched {
		return nil, false
	}
	out.Content = b.String()
	return &out, true
}

func (r *Registry) applyDelta(event map[string]any, b *strings.Builder, out *ParsedResponse) bool {
	matched := false
	for _, provider := range r.ordered {
		usage := provider.Usage(event)
		if !usage.IsZero() {
			out.Usage = out.Usage.merge(usage)
		}
		if matched {
			continue
		}
		delta, ok := provider.StreamDelta(event)
		if !ok {
			continue
		}
		b.WriteString(delta)
		out.Provider = provider.Name()
		matched = true
	}
	return matched
}

func (r *Registry) usage(payload map[string]any) Usage {
	for _, provider := range r.ordered {
		if usage := provider.Usage(payload); !usage.IsZero() {
			return usage
		}
	}
	return Usage{}
}

func looksLikeSSE(text string) bool {
	return strings.HasPrefix(text, "data:") ||
		strings.HasPrefix(text, "event:") ||
		strings.Contains(text, "\ndata:")
}
