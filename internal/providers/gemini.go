package providers

import (
	"net/url"
	"strings"
)

type GeminiProvider struct{}

func (GeminiProvider) Name() string {
	return "gemini"
}

func (GeminiProvider) Hosts() []string {
	return []string{"generativelanguage.googleapis.com"}
}

func (GeminiProvider) MatchRequest(payload map[string]any) bool {
	_, ok := payload["contents"].([]any)
	return ok
}

func (p GeminiProvider) ParseRequest(payload map[string]any) (*ParsedRequest, bool) {
	messages := make([]Message, 0, 8)
	for _, key := range []string{"systemInstruction", "system_instruction"} {
		instruction, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		if text := flattenContent(instruction["parts"]); text != "" {
			messages = append(messages, Message{Role: "system", Content: text})
		}
	}

	contents, _ := payload["contents"].([]any)
	for _, item := range contents {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		messages = append(messages, Message{
			Role:    geminiRole(entry["role"]),
			Content: flattenContent(entry["parts"]),
		})
	}
	if len(messages) == 0 {
		return nil, false
	}

	model := extractModel(payload)
	if model == "" {
		model = unknownModel(p.Name())
	}
	return &ParsedRequest{
		Messages: messages,
		Model:    model,
		ModelParams: collectModelParams(payload,
			"contents", "model", "systemInstruction", "system_instruction"),
		Provider: p.Name(),
	}, true
}

func geminiRole(raw any) string {
	role, _ := raw.(string)
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", "user":
		return "user"
	case "model":
		return "assistant"
	default:
		return role
	}
}

func (GeminiProvider) ResponseContent(payload map[string]any) (string, bool) {
	candidates, ok := payload["candidates"].([]any)
	if !ok {
		return "", false
	}
	if len(candidates) == 0 {
		return "", true
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return "", true
	}
	content, ok := candidate["content"].(map[string]any)
	if !ok {
		return "", true
	}
	return flattenContent(content["parts"]), true
}

func (p GeminiProvider) StreamDelta(event map[string]any) (string, bool) {
	return p.ResponseContent(event)
}

func (GeminiProvider) Usage(payload map[string]any) Usage {
	meta, ok := payload["usageMetadata"].(map[string]any)
	if !ok {
		return Usage{}
	}
	out := Usage{
		InputTokens:  firstInt(meta, "promptTokenCount"),
		OutputTokens: firstInt(meta, "candidatesTokenCount"),
		TotalTokens:  firstInt(meta, "totalTokenCount"),
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	return out
}

// ModelFromURL extracts the model name from Gemini-style request paths such as
// /v1beta/models/gemini-1.5-flash:generateContent.
func ModelFromURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	path := parsed.Path
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	model := path[idx+len("/models/"):]
	if end := strings.IndexAny(model, ":/"); end >= 0 {
		model = model[:end]
	}
	return strings.TrimSpace(model)
}
