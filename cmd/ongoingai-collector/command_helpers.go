package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/ongoingai/collector/internal/config"
	"github.com/ongoingai/collector/internal/observability"
	"github.com/ongoingai/collector/internal/pathutil"
	"github.com/ongoingai/collector/internal/store"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	switch normalized {
	case "text", "json":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid %s format %q: expected text or json", strings.TrimSpace(command), rawValue)
	}
}

func loadConfig(configPath string) (config.Config, error) {
	return config.Load(context.Background(), strings.TrimSpace(configPath))
}

// loadAndValidateConfig resolves config, applies a data folder override
// relative to the working directory, and reports which stage failed.
func loadAndValidateConfig(configPath, dataFolder string) (config.Config, string, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if folder := strings.TrimSpace(dataFolder); folder != "" {
		workDir, err := os.Getwd()
		if err != nil {
			return config.Config{}, configStageLoad, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.DataFolder = pathutil.ResolveFolder(workDir, folder)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

func reportConfigError(errOut io.Writer, stage string, err error) {
	if stage == configStageLoad {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return
	}
	fmt.Fprintf(errOut, "config is invalid: %v\n", err)
}

// openSampleIndex opens the configured mirror. It returns nil when no
// mirror is configured.
func openSampleIndex(mirror config.MirrorConfig) (store.SampleIndex, error) {
	switch mirror.Driver {
	case config.MirrorDriverSQLite:
		index, err := store.NewSQLiteIndex(mirror.Path)
		if err != nil {
			return nil, err
		}
		return index, nil
	case config.MirrorDriverPostgres:
		index, err := store.NewPostgresIndex(mirror.DSN)
		if err != nil {
			return nil, err
		}
		return index, nil
	default:
		return nil, nil
	}
}

func redactDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	if parsed, err := url.Parse(dsn); err == nil && parsed.Scheme != "" && parsed.User != nil {
		return parsed.Redacted()
	}
	return observability.ScrubCredentials(dsn)
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
