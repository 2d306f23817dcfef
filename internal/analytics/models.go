package analytics

import (
	"context"

	"github.com/ongoingai/collector/internal/store"
)

// ModelStatsSource is the aggregate query surface of a sample index.
type ModelStatsSource interface {
	ModelStats(ctx context.Context, filter store.SampleFilter) ([]store.ModelStats, error)
}

type ModelService struct {
	source ModelStatsSource
}

func NewModelService(source ModelStatsSource) *ModelService {
	return &ModelService{source: source}
}

func (s *ModelService) Stats(ctx context.Context, filter store.SampleFilter) ([]store.ModelStats, error) {
	return s.source.ModelStats(ctx, filter)
}
