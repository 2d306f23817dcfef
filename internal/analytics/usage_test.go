package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ongoingai/collector/internal/store"
)

type fakeSource struct {
	stats  []store.ModelStats
	err    error
	filter store.SampleFilter
}

func (f *fakeSource) ModelStats(_ context.Context, filter store.SampleFilter) ([]store.ModelStats, error) {
	f.filter = filter
	return f.stats, f.err
}

func TestUsageServiceSummary(t *testing.T) {
	t.Parallel()

	source := &fakeSource{stats: []store.ModelStats{
		{Provider: "openai", Model: "gpt-4o", RequestCount: 3, AvgDurationMS: 100, InputTokens: 30, OutputTokens: 12, TotalTokens: 42},
		{Provider: "anthropic", Model: "claude-3-5-sonnet", RequestCount: 1, AvgDurationMS: 200, InputTokens: 5, OutputTokens: 5, TotalTokens: 10},
	}}

	got, err := NewUsageService(source).Summary(context.Background(), store.SampleFilter{Tag: "summarize"})
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if source.filter.Tag != "summarize" {
		t.Fatalf("filter tag=%q, want summarize", source.filter.Tag)
	}
	want := &UsageSummary{
		TotalRequests:     4,
		TotalInputTokens:  35,
		TotalOutputTokens: 17,
		TotalTokens:       52,
		AvgDurationMS:     125,
		TopModel:          "gpt-4o",
		Models:            source.stats,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Summary() mismatch (-want +got):\n%s", diff)
	}
}

func TestUsageServiceSummaryEmpty(t *testing.T) {
	t.Parallel()

	got, err := NewUsageService(&fakeSource{}).Summary(context.Background(), store.SampleFilter{})
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if got.TotalRequests != 0 || got.TopModel != "" || got.AvgDurationMS != 0 {
		t.Fatalf("summary=%+v, want zero totals", got)
	}
	if got.Models == nil {
		t.Fatal("Models=nil, want empty slice")
	}
}

func TestUsageServiceSummaryWrapsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := NewUsageService(&fakeSource{err: boom}).Summary(context.Background(), store.SampleFilter{})
	if !errors.Is(err, boom) {
		t.Fatalf("Summary() error=%v, want wrapped boom", err)
	}
}

func TestModelServiceStatsPassesThrough(t *testing.T) {
	t.Parallel()

	source := &fakeSource{stats: []store.ModelStats{{Provider: "openai", Model: "gpt-4o", RequestCount: 1}}}
	got, err := NewModelService(source).Stats(context.Background(), store.SampleFilter{Provider: "openai"})
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if source.filter.Provider != "openai" {
		t.Fatalf("filter provider=%q, want openai", source.filter.Provider)
	}
	if diff := cmp.Diff(source.stats, got); diff != "" {
		t.Fatalf("Stats() mismatch (-want +got):\n%s", diff)
	}
}
