package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ongoingai/collector/internal/config"
	"github.com/ongoingai/collector/internal/observability"
	"github.com/ongoingai/collector/internal/pathutil"
	"github.com/ongoingai/collector/internal/store"
)

const (
	defaultCheckFormat = "text"
	checkTimeout       = 5 * time.Second

	checkStatusPass = "pass"
	checkStatusWarn = "warn"
	checkStatusFail = "fail"
	checkStatusSkip = "skip"
)

type checkDocument struct {
	GeneratedAt   time.Time   `json:"generated_at"`
	ConfigPath    string      `json:"config_path"`
	OverallStatus string      `json:"overall_status"`
	Checks        []checkItem `json:"checks"`
}

type checkItem struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Details []string `json:"details,omitempty"`
}

func runCheck(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("check", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", "", "Path to config file or directory")
	format := flagSet.String("format", defaultCheckFormat, "Output format: text or json")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "check does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("check", *format, defaultCheckFormat)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	document := buildCheckDocument(strings.TrimSpace(*configPath))
	if err := writeCheck(out, normalizedFormat, document); err != nil {
		fmt.Fprintf(errOut, "failed to write check output: %v\n", err)
		return 1
	}
	if document.OverallStatus == checkStatusFail {
		return 1
	}
	return 0
}

func buildCheckDocument(configPath string) checkDocument {
	doc := checkDocument{
		GeneratedAt: time.Now().UTC(),
		ConfigPath:  configPath,
		Checks:      make([]checkItem, 0, 5),
	}

	cfg, stage, err := loadAndValidateConfig(configPath, "")
	if err != nil {
		summary := "config is invalid"
		if stage == configStageLoad {
			summary = "failed to load config"
		}
		doc.Checks = append(doc.Checks,
			checkItem{Name: "config", Status: checkStatusFail, Summary: summary, Details: []string{err.Error()}},
			skippedCheck("data_folder", "skipped: config unusable"),
			skippedCheck("registry", "skipped: config unusable"),
			skippedCheck("mirror", "skipped: config unusable"),
			skippedCheck("metrics", "skipped: config unusable"),
		)
		doc.OverallStatus = checkOverallStatus(doc.Checks)
		return doc
	}
	if cfg.Path != "" {
		doc.ConfigPath = cfg.Path
	}

	doc.Checks = append(doc.Checks, runConfigCheck(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	router := store.NewRouter(nil)
	defer router.Close()

	doc.Checks = append(doc.Checks, runDataFolderCheck(cfg))
	doc.Checks = append(doc.Checks, runRegistryCheck(ctx, router, cfg))
	doc.Checks = append(doc.Checks, runMirrorCheck(ctx, cfg.Storage.Mirror))
	doc.Checks = append(doc.Checks, runMetricsCheck(cfg.Observability.OTel))
	doc.OverallStatus = checkOverallStatus(doc.Checks)
	return doc
}

func runConfigCheck(cfg config.Config) checkItem {
	check := checkItem{
		Name:    "config",
		Status:  checkStatusPass,
		Summary: "loaded and validated configuration",
		Details: []string{
			fmt.Sprintf("config path: %s", nonEmpty(cfg.Path, "(defaults and environment)")),
			fmt.Sprintf("hosts: %s", strings.Join(cfg.HostAllowlist, ", ")),
		},
	}
	if cfg.Path == "" {
		return check
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		check.Status = checkStatusWarn
		check.Summary = "configuration loaded but the file could not be re-read"
		check.Details = append(check.Details, err.Error())
		return check
	}
	if observability.ContainsCredential(string(data)) {
		check.Status = checkStatusWarn
		check.Summary = "config file contains a plaintext credential"
		check.Details = append(check.Details, "move secrets to environment variables such as ONGOINGAI_MIRROR_DSN")
	}
	return check
}

func skippedCheck(name, summary string) checkItem {
	return checkItem{Name: name, Status: checkStatusSkip, Summary: summary}
}

func runDataFolderCheck(cfg config.Config) checkItem {
	check := checkItem{Name: "data_folder"}
	folder := cfg.DataFolder
	if pathutil.IsRemote(folder) {
		check.Status = checkStatusPass
		check.Summary = "remote data folder; access verified through the registry check"
		check.Details = []string{"data folder: " + observability.ScrubURL(folder)}
		return check
	}

	check.Details = []string{"data folder: " + folder}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		check.Status = checkStatusFail
		check.Summary = "data folder cannot be created"
		check.Details = append(check.Details, err.Error())
		return check
	}
	scratch, err := os.CreateTemp(folder, ".ongoingai-check-*")
	if err != nil {
		check.Status = checkStatusFail
		check.Summary = "data folder is not writable"
		check.Details = append(check.Details, err.Error())
		return check
	}
	name := scratch.Name()
	_ = scratch.Close()
	if err := os.Remove(name); err != nil {
		check.Status = checkStatusWarn
		check.Summary = "data folder is writable but the scratch file could not be removed"
		check.Details = append(check.Details, err.Error())
		return check
	}

	check.Status = checkStatusPass
	check.Summary = "data folder is writable"
	return check
}

func runRegistryCheck(ctx context.Context, backend store.Backend, cfg config.Config) checkItem {
	check := checkItem{Name: "registry"}
	registry, err := backend.LoadRegistry(ctx, cfg.DataFolder)
	if err != nil {
		check.Status = checkStatusFail
		check.Summary = "registry could not be read"
		check.Details = []string{err.Error()}
		return check
	}
	check.Status = checkStatusPass
	check.Summary = fmt.Sprintf("registry readable with %d call sites", len(registry.CallSites()))
	return check
}

func runMirrorCheck(ctx context.Context, mirror config.MirrorConfig) checkItem {
	check := checkItem{Name: "mirror"}
	if mirror.Driver == config.MirrorDriverNone {
		return skippedCheck("mirror", "no sample mirror configured")
	}

	index, err := openSampleIndex(mirror)
	if err != nil {
		check.Status = checkStatusFail
		check.Summary = fmt.Sprintf("failed to open %s sample mirror", mirror.Driver)
		check.Details = []string{observability.ScrubCredentials(err.Error())}
		return check
	}
	if _, err := index.ListSamples(ctx, store.SampleFilter{Limit: 1}); err != nil {
		check.Status = checkStatusFail
		check.Summary = fmt.Sprintf("%s sample mirror query failed", mirror.Driver)
		check.Details = []string{observability.ScrubCredentials(err.Error())}
		_ = index.Close()
		return check
	}

	check.Status = checkStatusPass
	check.Summary = fmt.Sprintf("connected to %s sample mirror", mirror.Driver)
	if mirror.Driver == config.MirrorDriverSQLite {
		check.Details = []string{"path: " + mirror.Path}
	}
	if err := index.Close(); err != nil {
		check.Status = checkStatusWarn
		check.Summary = "sample mirror connectivity succeeded with close warning"
		check.Details = append(check.Details, fmt.Sprintf("close sample mirror: %v", err))
	}
	return check
}

func runMetricsCheck(otel config.OTelConfig) checkItem {
	if !otel.Enabled {
		return skippedCheck("metrics", "opentelemetry metrics disabled")
	}
	return checkItem{
		Name:    "metrics",
		Status:  checkStatusPass,
		Summary: "opentelemetry metrics enabled",
		Details: []string{
			"endpoint: " + otel.Endpoint,
			"service name: " + otel.ServiceName,
		},
	}
}

func checkOverallStatus(checks []checkItem) string {
	hasWarn := false
	for _, check := range checks {
		switch check.Status {
		case checkStatusFail:
			return checkStatusFail
		case checkStatusWarn:
			hasWarn = true
		}
	}
	if hasWarn {
		return checkStatusWarn
	}
	return checkStatusPass
}

func writeCheck(out io.Writer, format string, doc checkDocument) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	default:
		return writeCheckText(out, doc)
	}
}

func writeCheckText(out io.Writer, doc checkDocument) error {
	fmt.Fprintln(out, "OngoingAI Collector Check")

	meta := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(meta, "Generated at\t%s\n", doc.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(meta, "Config path\t%s\n", nonEmpty(doc.ConfigPath, "(default lookup)"))
	fmt.Fprintf(meta, "Overall status\t%s\n", strings.ToUpper(doc.OverallStatus))
	if err := meta.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nChecks")
	for _, check := range doc.Checks {
		fmt.Fprintf(out, "- [%s] %s: %s\n", strings.ToUpper(check.Status), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "  %s\n", detail)
		}
	}
	return nil
}
