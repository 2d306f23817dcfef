package event

import (
	"net/url"
	"strings"
)

var secretQueryKeys = []string{"key", "api_key", "apikey", "access_token", "token"}

// RedactURL blanks credential query parameters (Gemini passes its API
// key as ?key=) so they never reach the data folder.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.RawQuery == "" {
		return raw
	}
	query := parsed.Query()
	changed := false
	for name := range query {
		for _, secret := range secretQueryKeys {
			if strings.EqualFold(name, secret) {
				query.Set(name, "REDACTED")
				changed = true
			}
		}
	}
	if !changed {
		return raw
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
