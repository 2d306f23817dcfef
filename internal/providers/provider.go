// Package providers turns raw LLM request and response payloads into the
// normalized input/output shapes persisted with each sample.
package providers

// Message is one normalized conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ParsedRequest struct {
	Messages    []Message
	Model       string
	ModelParams map[string]any
	Provider    string
}

// ParsedResponse is the normalized model output. Only Content is persisted.
type ParsedResponse struct {
	Content  string `json:"content"`
	Usage    Usage  `json:"-"`
	Provider string `json:"-"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// merge keeps the larger value per field so usage reported across several
// stream events (input on the first, output on the last) is combined.
func (u Usage) merge(other Usage) Usage {
	if other.InputTokens > u.InputTokens {
		u.InputTokens = other.InputTokens
	}
	if other.OutputTokens > u.OutputTokens {
		u.OutputTokens = other.OutputTokens
	}
	if other.TotalTokens > u.TotalTokens {
		u.TotalTokens = other.TotalTokens
	}
	if total := u.InputTokens + u.OutputTokens; total > u.TotalTokens {
		u.TotalTokens = total
	}
	return u
}

// Provider knows one vendor's wire shapes.
type Provider interface {
	Name() string
	Hosts() []string
	// MatchRequest reports whether payload has this provider's request shape.
	MatchRequest(payload map[string]any) bool
	ParseRequest(payload map[string]any) (*ParsedRequest, bool)
	// ResponseContent extracts the assistant text from a complete response.
	ResponseContent(payload map[string]any) (string, bool)
	// StreamDelta extracts the text increment carried by one stream event.
	StreamDelta(event map[string]any) (string, bool)
	Usage(payload map[string]any) Usage
}
