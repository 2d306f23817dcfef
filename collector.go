// Package collector instruments an application's outbound HTTP calls to LLM
// providers. Captured request/response pairs are buffered and written as
// JSONL samples plus a call-site registry under a data folder, where scoring
// and reporting tools pick them up.
//
// A process normally builds one collector, either with Initialize (the
// process-scoped default) or with New, and routes provider traffic through
// its HTTPClient, Transport or Fetch.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/ongoingai/collector/internal/allowlist"
	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/capture"
	"github.com/ongoingai/collector/internal/config"
	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/internal/exporter"
	"github.com/ongoingai/collector/internal/observability"
	"github.com/ongoingai/collector/internal/pathutil"
	"github.com/ongoingai/collector/internal/providers"
	"github.com/ongoingai/collector/internal/store"
	"github.com/ongoingai/collector/internal/version"
)

// Options override the resolved configuration. Zero values keep what the
// config file and environment provide.
type Options struct {
	// ConfigPath is an explicit config file or directory.
	ConfigPath string
	// FlushImmediately writes every call synchronously as it completes.
	FlushImmediately bool
	// DataFolder is a local path (relative to the working directory) or a
	// bucket URL such as s3://bucket/prefix.
	DataFolder string
	// HostAllowlist replaces the configured allow-list when non-empty.
	HostAllowlist []string
	// Logger replaces the logger built from log_level and log_format.
	Logger *slog.Logger
	// BaseTransport performs the real requests. Defaults to
	// http.DefaultTransport.
	BaseTransport http.RoundTripper
}

// Stats is a diagnostics snapshot of the collector's exporter.
type Stats = exporter.Stats

// Collector owns one exporter and the interceptors that feed it.
type Collector struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *observability.Runtime
	storage   store.Backend
	exporter  *exporter.Exporter
	transport *capture.Transport
	fetcher   *capture.Fetcher

	shutdownOnce sync.Once
	shutdownErr  error
}

// New resolves configuration and builds a collector. Configuration errors,
// including a missing data folder, are returned; nothing is started in that
// case.
func New(ctx context.Context, opts Options) (*Collector, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyOptions(&cfg, opts); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return newWithConfig(ctx, cfg, opts)
}

func applyOptions(cfg *config.Config, opts Options) error {
	if opts.FlushImmediately {
		cfg.FlushImmediately = true
	}
	if folder := strings.TrimSpace(opts.DataFolder); folder != "" {
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.DataFolder = pathutil.ResolveFolder(workDir, folder)
	}
	if len(opts.HostAllowlist) > 0 {
		cfg.HostAllowlist = append([]string(nil), opts.HostAllowlist...)
	}
	return nil
}

func newWithConfig(ctx context.Context, cfg config.Config, opts Options) (*Collector, error) {
	logger := opts.Logger
	if logger == nil {
		built, err := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		logger = built
	}

	metrics, err := observability.Setup(ctx, cfg.Observability.OTel, version.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}

	storage, err := buildStorage(cfg.Storage.Mirror, logger)
	if err != nil {
		_ = metrics.Shutdown(ctx)
		return nil, err
	}

	dataFolder := cfg.DataFolder
	exp := exporter.New(storage, exporter.Options{
		FlushAtCount:     cfg.Exporter.FlushAtCount,
		FlushInterval:    cfg.Exporter.FlushInterval(),
		FlushImmediately: cfg.FlushImmediately,
		DataFolder:       func() string { return dataFolder },
		Registry:         providers.DefaultRegistry(),
		Logger:           logger,
	})
	exp.SetMetrics(exporterMetrics(metrics))
	exp.SetFlushFailureHandler(func(failure exporter.FlushFailure) {
		metrics.RecordFlushFailure(failure.Operation, failure.ErrorClass)
	})

	base := opts.BaseTransport
	if base == nil {
		base = http.DefaultTransport
	}
	captureOpts := capture.Options{
		Allowlist:    allowlist.New(cfg.HostAllowlist),
		Recorder:     exp,
		Resolver:     callsite.NewResolver(),
		MaxBodyBytes: cfg.Capture.BodyMaxSize,
		Logger:       logger,
	}

	c := &Collector{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		storage:   storage,
		exporter:  exp,
		transport: capture.NewTransport(base, captureOpts),
		fetcher:   capture.NewFetcher(capture.ClientFetch(&http.Client{Transport: base}), captureOpts),
	}
	logger.Info("collector initialized",
		"data_folder", observability.ScrubURL(cfg.DataFolder),
		"hosts", strings.Join(cfg.HostAllowlist, ","),
		"flush_immediately", cfg.FlushImmediately,
		"mirror", cfg.Storage.Mirror.Driver,
	)
	return c, nil
}

func buildStorage(mirror config.MirrorConfig, logger *slog.Logger) (store.Backend, error) {
	router := store.NewRouter(logger)

	var index store.SampleIndex
	switch mirror.Driver {
	case config.MirrorDriverSQLite:
		sqlite, err := store.NewSQLiteIndex(mirror.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite sample mirror: %w", err)
		}
		index = sqlite
	case config.MirrorDriverPostgres:
		postgres, err := store.NewPostgresIndex(mirror.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres sample mirror: %w", err)
		}
		index = postgres
	default:
		return router, nil
	}
	return &store.Mirrored{
		Primary: router,
		Mirrors: []store.SampleIndex{index},
		Logger:  logger,
	}, nil
}

func exporterMetrics(runtime *observability.Runtime) *exporter.Metrics {
	if !runtime.Enabled() {
		return nil
	}
	return &exporter.Metrics{
		OnRecord: func(call *event.Call) {
			runtime.RecordCall(hostOf(call.URL))
		},
		OnSample: func(sample event.Sample) {
			runtime.RecordSample(sample.Provider, sample.Model, sample.Usage.InputTokens, sample.Usage.OutputTokens)
		},
		OnDrop: func(reason event.DropReason) {
			runtime.RecordDrop(string(reason))
		},
		OnFlush: runtime.RecordFlush,
	}
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// Config returns the resolved configuration.
func (c *Collector) Config() config.Config {
	return c.cfg
}

// DataFolder is where samples and the registry are written.
func (c *Collector) DataFolder() string {
	return c.cfg.DataFolder
}

// Logger is the collector's logger.
func (c *Collector) Logger() *slog.Logger {
	return c.logger
}

// Transport returns the capturing RoundTripper. It can wrap any client an
// SDK accepts.
func (c *Collector) Transport() http.RoundTripper {
	return c.transport
}

// HTTPClient returns a new client whose transport captures LLM calls.
func (c *Collector) HTTPClient() *http.Client {
	return &http.Client{Transport: c.transport}
}

// Fetch returns the capturing fetch-style function.
func (c *Collector) Fetch() FetchFunc {
	return c.fetcher.Func()
}

// Flush writes buffered calls now. It returns immediately when another
// flush is running.
func (c *Collector) Flush() {
	c.exporter.Flush()
}

// Stats reports exporter counters.
func (c *Collector) Stats() Stats {
	return c.exporter.Stats()
}

// Shutdown flushes what is buffered, stops the flush loop and releases
// storage and metrics. When ctx ends before the final flush completes,
// storage is not closed. Later calls return the first result.
func (c *Collector) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.shutdownOnce.Do(func() {
		var errs []error
		if err := c.exporter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown exporter: %w", err))
			// The final drain may still be writing; storage stays open for it.
			c.logger.Warn("collector shutdown timed out before the final flush finished; storage left open", "error", err)
		} else if closer, ok := c.storage.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close storage: %w", err))
			}
		}
		if err := c.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
		c.shutdownErr = errors.Join(errs...)
	})
	return c.shutdownErr
}
