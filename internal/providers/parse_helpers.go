package providers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"strings"
)

const maxDecodedBodyBytes = 32 << 20

func parseJSONMap(raw []byte) (map[string]any, bool) {
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, false
	}
	return out, out != nil
}

func parseJSONValue(raw string) (any, bool) {
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

// decodeBody transparently inflates gzip payloads captured off the wire.
// Anything that is not valid gzip is returned untouched.
func decodeBody(raw []byte) []byte {
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		return raw
	}
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	defer reader.Close()
	out, err := io.ReadAll(io.LimitReader(reader, maxDecodedBodyBytes))
	if err != nil {
		return raw
	}
	return out
}

// EscapeBareNewlines escapes literal CR and LF characters that appear inside
// JSON string literals so bodies assembled from multi-line text still parse.
// Escape sequences already present and whitespace between tokens are kept.
func EscapeBareNewlines(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// flattenContent joins the text of string, part-array and object content
// representations. Non-text parts (images, tool calls) contribute nothing.
func flattenContent(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case []any:
		var b strings.Builder
		for _, part := range typed {
			switch p := part.(type) {
			case string:
				b.WriteString(p)
			case map[string]any:
				if text, ok := p["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String()
	case map[string]any:
		if text, ok := typed["text"].(string); ok {
			return text
		}
		if content, ok := typed["content"].(string); ok {
			return content
		}
	}
	return ""
}

func firstInt(values map[string]any, keys ...string) int {
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		switch typed := raw.(type) {
		case float64:
			return int(typed)
		case int:
			return typed
		}
	}
	return 0
}

func extractUsage(payload map[string]any) Usage {
	if payload == nil {
		return Usage{}
	}
	usage, ok := payload["usage"].(map[string]any)
	if !ok {
		return Usage{}
	}

	out := Usage{
		InputTokens:  firstInt(usage, "prompt_tokens", "input_tokens"),
		OutputTokens: firstInt(usage, "completion_tokens", "output_tokens"),
		TotalTokens:  firstInt(usage, "total_tokens"),
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	return out
}

// extractModel reads the model name from the top level or from a nested
// generation config block.
func extractModel(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if model, ok := payload["model"].(string); ok && strings.TrimSpace(model) != "" {
		return strings.TrimSpace(model)
	}
	for _, key := range []string{"generationConfig", "generation_config"} {
		nested, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		if model, ok := nested["model"].(string); ok && strings.TrimSpace(model) != "" {
			return strings.TrimSpace(model)
		}
	}
	return ""
}

// collectModelParams copies every top-level field of a request payload except
// the excluded container keys. Arrays such as tools or stop lists and null
// values are kept as sent.
func collectModelParams(payload map[string]any, excluded ...string) map[string]any {
	skip := make(map[string]struct{}, len(excluded))
	for _, key := range excluded {
		skip[key] = struct{}{}
	}
	params := make(map[string]any)
	for key, value := range payload {
		if _, ok := skip[key]; ok {
			continue
		}
		params[key] = value
	}
	return params
}

func parseMessages(raw any) []Message {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	messages := make([]Message, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		messages = append(messages, Message{
			Role:    role,
			Content: flattenContent(entry["content"]),
		})
	}
	return messages
}

func firstChoice(payload map[string]any) (map[string]any, bool) {
	choices, ok := payload["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	return choice, ok
}

func unknownModel(provider string) string {
	return provider + "/unknown"
}
