package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ongoingai/collector/internal/analytics"
	"github.com/ongoingai/collector/internal/config"
	"github.com/ongoingai/collector/internal/observability"
	"github.com/ongoingai/collector/internal/store"
)

const (
	defaultSamplesFormat = "text"
	defaultSamplesLimit  = 20
	maxSamplesLimit      = 200
)

type samplesDocument struct {
	Mirror  string           `json:"mirror"`
	Filters samplesFilters   `json:"filters"`
	Samples []samplesSummary `json:"samples"`
}

type samplesFilters struct {
	Tag      string `json:"tag,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Limit    int    `json:"limit"`
}

type samplesSummary struct {
	ID           int64     `json:"id"`
	StartTime    time.Time `json:"start_time"`
	DurationMS   int64     `json:"duration_ms"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Tag          string    `json:"tag"`
	Location     string    `json:"location"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	URL          string    `json:"url"`
}

func runSamples(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("samples", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", "", "Path to config file or directory")
	tag := flagSet.String("tag", "", "Filter by tag")
	model := flagSet.String("model", "", "Filter by model")
	provider := flagSet.String("provider", "", "Filter by provider")
	limit := flagSet.Int("limit", defaultSamplesLimit, "Maximum samples to list")
	format := flagSet.String("format", defaultSamplesFormat, "Output format: text or json")
	summary := flagSet.Bool("summary", false, "Print per-model usage totals instead of samples")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "samples does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("samples", *format, defaultSamplesFormat)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if *limit <= 0 || *limit > maxSamplesLimit {
		fmt.Fprintf(errOut, "invalid samples limit %d: expected 1-%d\n", *limit, maxSamplesLimit)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath, "")
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	if cfg.Storage.Mirror.Driver == config.MirrorDriverNone {
		fmt.Fprintln(errOut, "samples requires storage.mirror.driver to be sqlite or postgres")
		return 1
	}

	index, err := openSampleIndex(cfg.Storage.Mirror)
	if err != nil {
		fmt.Fprintf(errOut, "failed to open sample mirror: %v\n", observability.ScrubCredentials(err.Error()))
		return 1
	}
	defer index.Close()

	filter := store.SampleFilter{
		DataFolder: cfg.DataFolder,
		Tag:        strings.TrimSpace(*tag),
		Model:      strings.TrimSpace(*model),
		Provider:   strings.TrimSpace(*provider),
		Limit:      *limit,
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	if *summary {
		usage, err := analytics.NewUsageService(index).Summary(ctx, filter)
		if err != nil {
			fmt.Fprintf(errOut, "failed to summarize samples: %v\n", observability.ScrubCredentials(err.Error()))
			return 1
		}
		if err := writeUsageSummary(out, normalizedFormat, cfg.Storage.Mirror.Driver, usage); err != nil {
			fmt.Fprintf(errOut, "failed to write samples output: %v\n", err)
			return 1
		}
		return 0
	}

	rows, err := index.ListSamples(ctx, filter)
	if err != nil {
		fmt.Fprintf(errOut, "failed to list samples: %v\n", observability.ScrubCredentials(err.Error()))
		return 1
	}

	document := buildSamplesDocument(cfg.Storage.Mirror.Driver, filter, rows)
	if err := writeSamples(out, normalizedFormat, document); err != nil {
		fmt.Fprintf(errOut, "failed to write samples output: %v\n", err)
		return 1
	}
	return 0
}

func buildSamplesDocument(driver string, filter store.SampleFilter, rows []store.IndexedSample) samplesDocument {
	doc := samplesDocument{
		Mirror: driver,
		Filters: samplesFilters{
			Tag:      filter.Tag,
			Model:    filter.Model,
			Provider: filter.Provider,
			Limit:    filter.Limit,
		},
		Samples: make([]samplesSummary, 0, len(rows)),
	}
	for _, row := range rows {
		sample := row.Sample
		doc.Samples = append(doc.Samples, samplesSummary{
			ID:           row.ID,
			StartTime:    time.UnixMilli(sample.StartTimeMS).UTC(),
			DurationMS:   sample.DurationMS,
			Provider:     row.Provider,
			Model:        sample.Model,
			Tag:          sample.Tag,
			Location:     sample.Location.File + ":" + sample.Location.LineNumber,
			InputTokens:  sample.Usage.InputTokens,
			OutputTokens: sample.Usage.OutputTokens,
			URL:          observability.ScrubURL(sample.URL),
		})
	}
	return doc
}

func writeSamples(out io.Writer, format string, doc samplesDocument) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	}

	fmt.Fprintf(out, "Samples: %d (mirror %s)\n", len(doc.Samples), doc.Mirror)
	if len(doc.Samples) == 0 {
		return nil
	}
	fmt.Fprintln(out)

	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tSTART\tPROVIDER\tMODEL\tTAG\tTOKENS IN/OUT\tDURATION\tLOCATION")
	for _, sample := range doc.Samples {
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%s\t%d/%d\t%dms\t%s\n",
			sample.ID,
			sample.StartTime.Format(time.RFC3339),
			nonEmpty(sample.Provider, "-"),
			sample.Model,
			nonEmpty(sample.Tag, "-"),
			sample.InputTokens,
			sample.OutputTokens,
			sample.DurationMS,
			sample.Location,
		)
	}
	return table.Flush()
}

func writeUsageSummary(out io.Writer, format, driver string, usage *analytics.UsageSummary) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(usage)
	}

	fmt.Fprintf(out, "Requests: %d (mirror %s)\n", usage.TotalRequests, driver)
	fmt.Fprintf(out, "Tokens: %d in, %d out, %d total\n", usage.TotalInputTokens, usage.TotalOutputTokens, usage.TotalTokens)
	if usage.TotalRequests == 0 {
		return nil
	}
	fmt.Fprintf(out, "Average duration: %.1fms\n", usage.AvgDurationMS)
	fmt.Fprintln(out)

	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "PROVIDER\tMODEL\tREQUESTS\tTOKENS IN/OUT\tAVG DURATION")
	for _, item := range usage.Models {
		fmt.Fprintf(table, "%s\t%s\t%d\t%d/%d\t%.1fms\n",
			nonEmpty(item.Provider, "-"),
			item.Model,
			item.RequestCount,
			item.InputTokens,
			item.OutputTokens,
			item.AvgDurationMS,
		)
	}
	return table.Flush()
}
