package providers

import "strings"

type AnthropicProvider struct{}

func (AnthropicProvider) Name() string {
	return "anthropic"
}

func (AnthropicProvider) Hosts() []string {
	return []string{"api.anthropic.com"}
}

// MatchRequest distinguishes Messages API payloads from OpenAI chat payloads
// by the Anthropic-only fields they carry.
func (AnthropicProvider) MatchRequest(payload map[string]any) bool {
	if _, ok := payload["messages"].([]any); !ok {
		return false
	}
	if _, ok := payload["system"]; ok {
		return true
	}
	if _, ok := payload["anthropic_version"]; ok {
		return true
	}
	model, _ := payload["model"].(string)
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "claude")
}

func (p AnthropicProvider) ParseRequest(payload map[string]any) (*ParsedRequest, bool) {
	messages := make([]Message, 0, 8)
	if system, ok := payload["system"]; ok {
		if text := flattenContent(system); text != "" {
			messages = append(messages, Message{Role: "system", Content: text})
		}
	}
	messages = append(messages, parseMessages(payload["messages"])...)
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
		ModelParams: collectModelParams(payload, "messages", "model", "system"),
		Provider:    p.Name(),
	}, true
}

func (AnthropicProvider) ResponseContent(payload map[string]any) (string, bool) {
	content, ok := payload["content"].([]any)
	if !ok {
		return "", false
	}
	return flattenContent(content), true
}

func (AnthropicProvider) StreamDelta(event map[string]any) (string, bool) {
	if kind, _ := event["type"].(string); kind != "content_block_delta" {
		return "", false
	}
	delta, ok := event["delta"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := delta["text"].(string)
	return text, ok
}

func (AnthropicProvider) Usage(payload map[string]any) Usage {
	if usage := extractUsage(payload); !usage.IsZero() {
		return usage
	}
	// message_start nests usage under the message object.
	if message, ok := payload["message"].(map[string]any); ok {
		return extractUsage(message)
	}
	return Usage{}
}
