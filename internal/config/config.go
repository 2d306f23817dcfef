package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ongoingai/collector/internal/pathutil"
	"github.com/ongoingai/collector/internal/providers"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file looked up in a config directory.
	FileName = "ongoingai.yaml"
	// DirName is the project directory checked before the working directory.
	DirName = "ongoingai"
	// PathEnv overrides config file discovery.
	PathEnv = "ONGOINGAI_CONFIG_PATH"
	// Section is the top-level YAML key owned by the collector.
	Section = "collector"
)

// ErrDataFolderRequired is returned by Validate when no data folder is set.
var ErrDataFolderRequired = errors.New("data_folder is required (set collector.data_folder or ONGOINGAI_DATA_FOLDER)")

type Config struct {
	DataFolder       string              `yaml:"data_folder"`
	HostAllowlist    []string            `yaml:"host_allowlist"`
	LogLevel         string              `yaml:"log_level"`
	LogFormat        string              `yaml:"log_format"`
	FlushImmediately bool                `yaml:"flush_immediately"`
	Exporter         ExporterConfig      `yaml:"exporter"`
	Capture          CaptureConfig       `yaml:"capture"`
	Storage          StorageConfig       `yaml:"storage"`
	Observability    ObservabilityConfig `yaml:"observability"`

	// Path is the config file that was read, empty when none existed.
	Path string `yaml:"-"`
}

type ExporterConfig struct {
	FlushAtCount    int `yaml:"flush_at_count"`
	FlushIntervalMS int `yaml:"flush_interval_ms"`
}

func (c ExporterConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

type CaptureConfig struct {
	BodyMaxSize int `yaml:"body_max_size"`
}

type StorageConfig struct {
	Mirror MirrorConfig `yaml:"mirror"`
}

// MirrorConfig selects an optional SQL index that receives a copy of every
// written batch.
type MirrorConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

const (
	MirrorDriverNone     = ""
	MirrorDriverSQLite   = "sqlite"
	MirrorDriverPostgres = "postgres"
)

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool   `yaml:"enabled"`
	Endpoint               string `yaml:"endpoint"`
	Insecure               bool   `yaml:"insecure"`
	ServiceName            string `yaml:"service_name"`
	ExportTimeoutMS        int    `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int    `yaml:"metric_export_interval_ms"`
}

const (
	defaultLogLevel                   = "warn"
	defaultLogFormat                  = "text"
	defaultFlushAtCount               = 5
	defaultFlushIntervalMS            = 10000
	defaultBodyMaxSize                = 2 << 20
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "ongoingai-collector"
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Exporter: ExporterConfig{
			FlushAtCount:    defaultFlushAtCount,
			FlushIntervalMS: defaultFlushIntervalMS,
		},
		Capture: CaptureConfig{
			BodyMaxSize: defaultBodyMaxSize,
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

// ResolvePath picks the config file: explicit, then ONGOINGAI_CONFIG_PATH,
// then ./ongoingai/ongoingai.yaml when ./ongoingai exists, then
// ./ongoingai.yaml. A directory resolves to the file inside it.
func ResolvePath(explicit string, lookuper envconfig.Lookuper, workDir string) string {
	candidate := strings.TrimSpace(explicit)
	if candidate == "" && lookuper != nil {
		if v, ok := lookuper.Lookup(PathEnv); ok {
			candidate = strings.TrimSpace(v)
		}
	}
	if candidate == "" {
		projectDir := filepath.Join(workDir, DirName)
		if info, err := os.Stat(projectDir); err == nil && info.IsDir() {
			return filepath.Join(projectDir, FileName)
		}
		return filepath.Join(workDir, FileName)
	}
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workDir, candidate)
	}
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return filepath.Join(candidate, FileName)
	}
	return candidate
}

// Load resolves the config path, reads the collector section and applies
// environment overrides from the process environment.
func Load(ctx context.Context, path string) (Config, error) {
	return LoadWithLookuper(ctx, path, envconfig.OsLookuper())
}

// LoadWithLookuper is Load with an explicit environment source.
func LoadWithLookuper(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	workDir, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("resolve working directory: %w", err)
	}
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	cfg := Default()
	resolved := ResolvePath(path, lookuper, workDir)
	found, err := readFile(resolved, &cfg)
	if err != nil {
		return Config{}, err
	}
	if found {
		cfg.Path = resolved
		base := filepath.Dir(resolved)
		cfg.DataFolder = pathutil.ResolveFolder(base, cfg.DataFolder)
		cfg.Storage.Mirror.Path = pathutil.ResolveFolder(base, cfg.Storage.Mirror.Path)
	}

	if err := applyEnv(ctx, &cfg, lookuper, workDir); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// readFile decodes the collector section of path into cfg. Other top-level
// sections belong to other tools and are ignored.
func readFile(path string, cfg *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config %q: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var doc map[string]yaml.Node
	decodeErr := decoder.Decode(&doc)
	if errors.Is(decodeErr, io.EOF) {
		return true, nil
	}
	if decodeErr != nil {
		return false, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
	}
	var trailing any
	trailingErr := decoder.Decode(&trailing)
	if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
		return false, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
	}
	if trailing != nil {
		return false, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
	}

	section, ok := doc[Section]
	if !ok || section.Kind == 0 {
		return true, nil
	}
	// Re-encode the section so unknown collector keys are rejected.
	raw, err := yaml.Marshal(&section)
	if err != nil {
		return false, fmt.Errorf("parse yaml %q: %w", path, err)
	}
	strict := yaml.NewDecoder(bytes.NewReader(raw))
	strict.KnownFields(true)
	if err := strict.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("parse yaml %q: %s: %w", path, Section, err)
	}
	return true, nil
}

// envOverrides holds environment values. Typed fields are decoded by
// envconfig and stay nil when the variable is unset.
type envOverrides struct {
	DataFolder       string   `env:"ONGOINGAI_DATA_FOLDER"`
	HostAllowlist    []string `env:"ONGOINGAI_HOST_ALLOWLIST"`
	LogLevel         string   `env:"ONGOINGAI_LOG_LEVEL"`
	LogFormat        string   `env:"ONGOINGAI_LOG_FORMAT"`
	FlushImmediately *bool    `env:"ONGOINGAI_FLUSH_IMMEDIATELY, noinit"`
	FlushAtCount     *int     `env:"ONGOINGAI_FLUSH_AT_COUNT, noinit"`
	FlushIntervalMS  *int     `env:"ONGOINGAI_FLUSH_INTERVAL_MS, noinit"`
	BodyMaxSize      *int     `env:"ONGOINGAI_BODY_MAX_SIZE, noinit"`
	MirrorDriver     string   `env:"ONGOINGAI_MIRROR_DRIVER"`
	MirrorPath       string   `env:"ONGOINGAI_MIRROR_PATH"`
	MirrorDSN        string   `env:"ONGOINGAI_MIRROR_DSN"`

	OTelSDKDisabled      *bool  `env:"OTEL_SDK_DISABLED, noinit"`
	OTelEndpoint         string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure         *bool  `env:"OTEL_EXPORTER_OTLP_INSECURE, noinit"`
	OTelServiceName      string `env:"OTEL_SERVICE_NAME"`
	OTelExportTimeout    *int   `env:"OTEL_EXPORTER_OTLP_TIMEOUT, noinit"`
	OTelMetricExportIntv *int   `env:"OTEL_METRIC_EXPORT_INTERVAL, noinit"`
}

func applyEnv(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper, workDir string) error {
	var env envOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		if name := envVarForError(err); name != "" {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		return fmt.Errorf("read environment: %w", err)
	}

	if v := strings.TrimSpace(env.DataFolder); v != "" {
		cfg.DataFolder = pathutil.ResolveFolder(workDir, v)
	}
	if len(env.HostAllowlist) > 0 {
		cfg.HostAllowlist = env.HostAllowlist
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(env.LogFormat); v != "" {
		cfg.LogFormat = v
	}
	if env.FlushImmediately != nil {
		cfg.FlushImmediately = *env.FlushImmediately
	}
	if env.FlushAtCount != nil {
		cfg.Exporter.FlushAtCount = *env.FlushAtCount
	}
	if env.FlushIntervalMS != nil {
		cfg.Exporter.FlushIntervalMS = *env.FlushIntervalMS
	}
	if env.BodyMaxSize != nil {
		cfg.Capture.BodyMaxSize = *env.BodyMaxSize
	}
	if v := strings.TrimSpace(env.MirrorDriver); v != "" {
		cfg.Storage.Mirror.Driver = v
	}
	if v := strings.TrimSpace(env.MirrorPath); v != "" {
		cfg.Storage.Mirror.Path = pathutil.ResolveFolder(workDir, v)
	}
	if v := strings.TrimSpace(env.MirrorDSN); v != "" {
		cfg.Storage.Mirror.DSN = v
	}

	otel := &cfg.Observability.OTel
	otelConfigured := false
	if v := strings.TrimSpace(env.OTelEndpoint); v != "" {
		otel.Endpoint = v
		otelConfigured = true
	}
	if env.OTelInsecure != nil {
		otel.Insecure = *env.OTelInsecure
		otelConfigured = true
	}
	if v := strings.TrimSpace(env.OTelServiceName); v != "" {
		otel.ServiceName = v
		otelConfigured = true
	}
	if env.OTelExportTimeout != nil {
		otel.ExportTimeoutMS = *env.OTelExportTimeout
		otelConfigured = true
	}
	if env.OTelMetricExportIntv != nil {
		otel.MetricExportIntervalMS = *env.OTelMetricExportIntv
		otelConfigured = true
	}
	switch {
	case env.OTelSDKDisabled != nil:
		otel.Enabled = !*env.OTelSDKDisabled
	case otelConfigured:
		otel.Enabled = true
	}
	return nil
}

// envVarForError maps an envconfig decode error, which names the struct
// field, back to the environment variable it was read from.
func envVarForError(err error) string {
	msg := err.Error()
	t := reflect.TypeOf(envOverrides{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !strings.HasPrefix(msg, field.Name+":") {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("env"), ",")
		return strings.TrimSpace(name)
	}
	return ""
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Storage.Mirror.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Mirror.Driver))

	hosts := make([]string, 0, len(c.HostAllowlist))
	for _, host := range c.HostAllowlist {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		hosts = providers.DefaultHosts()
	}
	c.HostAllowlist = hosts
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DataFolder) == "" {
		return ErrDataFolderRequired
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("log_level must be one of error, warn, info, debug (got %q)", cfg.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be one of text, json (got %q)", cfg.LogFormat)
	}

	if cfg.Exporter.FlushAtCount <= 0 {
		return fmt.Errorf("exporter.flush_at_count must be > 0 (got %d)", cfg.Exporter.FlushAtCount)
	}
	if cfg.Exporter.FlushIntervalMS <= 0 {
		return fmt.Errorf("exporter.flush_interval_ms must be > 0 (got %d)", cfg.Exporter.FlushIntervalMS)
	}
	if cfg.Capture.BodyMaxSize <= 0 {
		return fmt.Errorf("capture.body_max_size must be > 0 (got %d)", cfg.Capture.BodyMaxSize)
	}

	mirror := cfg.Storage.Mirror
	switch strings.ToLower(strings.TrimSpace(mirror.Driver)) {
	case MirrorDriverNone:
	case MirrorDriverSQLite:
		if strings.TrimSpace(mirror.Path) == "" {
			return errors.New("storage.mirror.path is required when storage.mirror.driver=sqlite")
		}
	case MirrorDriverPostgres:
		if strings.TrimSpace(mirror.DSN) == "" {
			return errors.New("storage.mirror.dsn is required when storage.mirror.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.mirror.driver must be empty, sqlite or postgres (got %q)", mirror.Driver)
	}

	return validateOTelConfig(cfg.Observability.OTel)
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}
