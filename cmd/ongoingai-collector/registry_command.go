package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ongoingai/collector/internal/observability"
	"github.com/ongoingai/collector/internal/store"
)

const defaultRegistryFormat = "text"

type registryDocument struct {
	DataFolder string             `json:"data_folder"`
	Tag        string             `json:"tag,omitempty"`
	TotalCalls int                `json:"total_calls"`
	CallSites  []registryCallSite `json:"call_sites"`
}

type registryCallSite struct {
	File       string `json:"file"`
	LineNumber string `json:"lineNumber"`
	Tag        string `json:"tag"`
	FirstSeen  string `json:"firstSeen"`
	LastSeen   string `json:"lastSeen"`
	Count      int    `json:"count"`
}

func runRegistry(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("registry", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", "", "Path to config file or directory")
	dataFolder := flagSet.String("data-folder", "", "Data folder path or bucket URL (overrides config)")
	tag := flagSet.String("tag", "", "Only list call sites with this tag")
	format := flagSet.String("format", defaultRegistryFormat, "Output format: text or json")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "registry does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("registry", *format, defaultRegistryFormat)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath, *dataFolder)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	router := store.NewRouter(nil)
	defer router.Close()

	registry, err := router.LoadRegistry(ctx, cfg.DataFolder)
	if err != nil {
		fmt.Fprintf(errOut, "failed to read registry: %v\n", err)
		return 1
	}

	document := buildRegistryDocument(cfg.DataFolder, strings.TrimSpace(*tag), registry)
	if err := writeRegistry(out, normalizedFormat, document); err != nil {
		fmt.Fprintf(errOut, "failed to write registry output: %v\n", err)
		return 1
	}
	return 0
}

func buildRegistryDocument(dataFolder, tag string, registry *store.Registry) registryDocument {
	doc := registryDocument{
		DataFolder: observability.ScrubURL(dataFolder),
		Tag:        tag,
		CallSites:  []registryCallSite{},
	}
	for _, site := range registry.CallSites() {
		if tag != "" && site.Tag != tag {
			continue
		}
		doc.TotalCalls += site.Count
		doc.CallSites = append(doc.CallSites, registryCallSite{
			File:       site.File,
			LineNumber: site.LineNumber,
			Tag:        site.Tag,
			FirstSeen:  site.FirstSeen,
			LastSeen:   site.LastSeen,
			Count:      site.Count,
		})
	}
	return doc
}

func writeRegistry(out io.Writer, format string, doc registryDocument) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	}

	fmt.Fprintf(out, "Data folder: %s\n", doc.DataFolder)
	fmt.Fprintf(out, "Call sites: %d (%d calls)\n", len(doc.CallSites), doc.TotalCalls)
	if len(doc.CallSites) == 0 {
		return nil
	}
	fmt.Fprintln(out)

	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "LOCATION\tTAG\tCOUNT\tLAST SEEN")
	for _, site := range doc.CallSites {
		fmt.Fprintf(table, "%s:%s\t%s\t%d\t%s\n", site.File, site.LineNumber, site.Tag, site.Count, site.LastSeen)
	}
	return table.Flush()
}
