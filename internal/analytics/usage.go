package analytics

import (
	"context"
	"fmt"

	"github.com/ongoingai/collector/internal/store"
)

type UsageSummary struct {
	TotalRequests     int64              `json:"total_requests"`
	TotalInputTokens  int64              `json:"total_input_tokens"`
	TotalOutputTokens int64              `json:"total_output_tokens"`
	TotalTokens       int64              `json:"total_tokens"`
	AvgDurationMS     float64            `json:"avg_duration_ms"`
	TopModel          string             `json:"top_model,omitempty"`
	Models            []store.ModelStats `json:"models"`
}

type UsageService struct {
	source ModelStatsSource
}

func NewUsageService(source ModelStatsSource) *UsageService {
	return &UsageService{source: source}
}

// Summary folds per-model aggregates into one report. TopModel is the model
// with the most requests; the index returns models in that order.
func (s *UsageService) Summary(ctx context.Context, filter store.SampleFilter) (*UsageSummary, error) {
	models, err := s.source.ModelStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load model stats: %w", err)
	}
	return Summarize(models), nil
}

func Summarize(models []store.ModelStats) *UsageSummary {
	summary := &UsageSummary{Models: models}
	if summary.Models == nil {
		summary.Models = []store.ModelStats{}
	}
	var weightedDuration float64
	for _, item := range models {
		summary.TotalRequests += item.RequestCount
		summary.TotalInputTokens += item.InputTokens
		summary.TotalOutputTokens += item.OutputTokens
		summary.TotalTokens += item.TotalTokens
		weightedDuration += item.AvgDurationMS * float64(item.RequestCount)
	}
	if summary.TotalRequests > 0 {
		summary.AvgDurationMS = weightedDuration / float64(summary.TotalRequests)
	}
	if len(models) > 0 {
		summary.TopModel = models[0].Model
	}
	return summary
}
