package store

import (
	"testing"
	"time"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/internal/providers"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testSample(tag, content string) event.Sample {
	start := testEpoch.UnixMilli()
	return event.Sample{
		DurationMS:  120,
		Tag:         tag,
		Input:       []providers.Message{{Role: "user", Content: content}},
		Output:      &providers.ParsedResponse{Content: "ok"},
		Model:       "gpt-4o",
		ModelParams: map[string]any{"temperature": 0.2},
		StartTimeMS: start,
		EndTimeMS:   start + 120,
		URL:         "https://api.openai.com/v1/chat/completions",
		Location:    callsite.Location{File: "/app/main.go", LineNumber: "12"},
		Provider:    "openai",
		Usage:       providers.Usage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8},
	}
}

func mustEntry(t *testing.T, reg *Registry, file, line string) RegistryEntry {
	t.Helper()
	entry, ok := reg.Files[file][line]
	if !ok {
		t.Fatalf("registry has no entry for %s:%s (files=%v)", file, line, reg.Files)
	}
	return entry
}
