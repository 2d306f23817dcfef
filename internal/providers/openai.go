package providers

import "strings"

type OpenAIProvider struct{}

func (OpenAIProvider) Name() string {
	return "openai"
}

func (OpenAIProvider) Hosts() []string {
	return []string{"api.openai.com"}
}

func (OpenAIProvider) MatchRequest(payload map[string]any) bool {
	_, ok := payload["messages"].([]any)
	return ok
}

func (p OpenAIProvider) ParseRequest(payload map[string]any) (*ParsedRequest, bool) {
	messages := parseMessages(payload["messages"])
	if len(messages) == 0 {
		return nil, false
	}
	model := extractModel(payload)
	if model == "" {
		model = unknownModel(p.Name())
	}
	return &ParsedRequest{
		Messages:    messages,
		Model:       model,
		ModelParams: collectModelParams(payload, "messages", "model"),
		Provider:    p.Name(),
	}, true
}

func (OpenAIProvider) ResponseContent(payload map[string]any) (string, bool) {
	if choice, ok := firstChoice(payload); ok {
		if message, ok := choice["message"].(map[string]any); ok {
			if content, exists := message["content"]; exists {
				return flattenContent(content), true
			}
		}
		if text, ok := choice["text"].(string); ok {
			return text, true
		}
		if delta, ok := choice["delta"].(map[string]any); ok {
			if content, ok := delta["content"].(string); ok {
				return content, true
			}
		}
	}

	// Responses API.
	if text, ok := payload["output_text"].(string); ok {
		return text, true
	}
	if output, ok := payload["output"].([]any); ok {
		var b strings.Builder
		found := false
		for _, item := range output {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if content, ok := entry["content"].([]any); ok {
				found = true
				b.WriteString(flattenContent(content))
			}
		}
		if found {
			return b.String(), true
		}
	}
	return "", false
}

func (OpenAIProvider) StreamDelta(event map[string]any) (string, bool) {
	if choice, ok := firstChoice(event); ok {
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			return "", false
		}
		content, ok := delta["content"].(string)
		return content, ok
	}
	if kind, _ := event["type"].(string); kind == "response.output_text.delta" {
		delta, ok := event["delta"].(string)
		return delta, ok
	}
	return "", false
}

func (OpenAIProvider) Usage(payload map[string]any) Usage {
	if usage := extractUsage(payload); !usage.IsZero() {
		return usage
	}
	if response, ok := payload["response"].(map[string]any); ok {
		return extractUsage(response)
	}
	return Usage{}
}
