package providers

// ParseRequestBody extracts messages, model and model parameters from a raw
// request body. Bodies without a recognizable message list are rejected.
func (r *Registry) ParseRequestBody(raw string) (*ParsedRequest, bool) {
	body := string(decodeBody([]byte(raw)))
	payload, ok := parseJSONMap([]byte(EscapeBareNewlines(body)))
	if !ok {
		return nil, false
	}
	for _, provider := range r.ordered {
		if !provider.MatchRequest(payload) {
			continue
		}
		return provider.ParseRequest(payload)
	}
	return nil, false
}
