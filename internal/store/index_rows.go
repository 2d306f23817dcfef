package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ongoingai/collector/internal/event"
)

type sampleRow struct {
	DataFolder   string
	Tag          string
	Model        string
	Provider     string
	URL          string
	LocationFile string
	LocationLine string
	StartTimeMS  int64
	EndTimeMS    int64
	DurationMS   int64
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	SampleJSON   string
}

func newSampleRow(folder string, sample event.Sample) (sampleRow, error) {
	raw, err := json.Marshal(sample)
	if err != nil {
		return sampleRow{}, fmt.Errorf("encode sample: %w", err)
	}
	return sampleRow{
		DataFolder:   folder,
		Tag:          sample.Tag,
		Model:        sample.Model,
		Provider:     sample.Provider,
		URL:          sample.URL,
		LocationFile: sample.Location.File,
		LocationLine: sample.Location.LineNumber,
		StartTimeMS:  sample.StartTimeMS,
		EndTimeMS:    sample.EndTimeMS,
		DurationMS:   sample.DurationMS,
		InputTokens:  sample.Usage.InputTokens,
		OutputTokens: sample.Usage.OutputTokens,
		TotalTokens:  sample.Usage.TotalTokens,
		SampleJSON:   string(raw),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sampleSelectColumns = `id, data_folder, provider, input_tokens, output_tokens, total_tokens, sample_json`

func scanIndexedSample(scanner rowScanner) (IndexedSample, error) {
	var (
		out     IndexedSample
		rawJSON string
	)
	if err := scanner.Scan(
		&out.ID,
		&out.DataFolder,
		&out.Provider,
		&out.Sample.Usage.InputTokens,
		&out.Sample.Usage.OutputTokens,
		&out.Sample.Usage.TotalTokens,
		&rawJSON,
	); err != nil {
		return IndexedSample{}, err
	}
	if err := json.Unmarshal([]byte(rawJSON), &out.Sample); err != nil {
		return IndexedSample{}, fmt.Errorf("decode indexed sample %d: %w", out.ID, err)
	}
	out.Sample.Provider = out.Provider
	return out, nil
}

// modelStatsQuery groups samples matching where. Limit is ignored.
func modelStatsQuery(where string) string {
	return `
SELECT
	provider,
	model,
	COUNT(*) AS request_count,
	CAST(COALESCE(AVG(duration_ms), 0) AS DOUBLE PRECISION),
	CAST(COALESCE(SUM(input_tokens), 0) AS BIGINT),
	CAST(COALESCE(SUM(output_tokens), 0) AS BIGINT),
	CAST(COALESCE(SUM(total_tokens), 0) AS BIGINT)
FROM samples` + where + `
GROUP BY provider, model
ORDER BY request_count DESC, provider ASC, model ASC
`
}

func scanModelStats(rows *sql.Rows) ([]ModelStats, error) {
	stats := make([]ModelStats, 0)
	for rows.Next() {
		var item ModelStats
		if err := rows.Scan(
			&item.Provider,
			&item.Model,
			&item.RequestCount,
			&item.AvgDurationMS,
			&item.InputTokens,
			&item.OutputTokens,
			&item.TotalTokens,
		); err != nil {
			return nil, fmt.Errorf("scan model stats row: %w", err)
		}
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model stats rows: %w", err)
	}
	return stats, nil
}
