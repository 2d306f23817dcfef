// Package exporter buffers captured calls and flushes them to storage in
// batches, on a count threshold, on a timer, or immediately per call.
package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/internal/observability"
	"github.com/ongoingai/collector/internal/providers"
)

const (
	DefaultFlushAtCount  = 5
	DefaultFlushInterval = 10 * time.Second
	DefaultWriteTimeout  = 30 * time.Second
)

// Store persists flushed batches.
type Store interface {
	AppendSamples(ctx context.Context, dataFolder string, samples []event.Sample) error
	UpdateRegistry(ctx context.Context, dataFolder string, location callsite.Location, tag string) error
}

type Options struct {
	FlushAtCount     int
	FlushInterval    time.Duration
	FlushImmediately bool
	// DataFolder is read at every flush; an empty result skips the flush.
	DataFolder   func() string
	WriteTimeout time.Duration
	Registry     *providers.Registry
	Logger       *slog.Logger
}

// FlushFailure describes a storage operation that failed during a flush.
type FlushFailure struct {
	Operation  string
	BatchSize  int
	Err        error
	ErrorClass string
}

// FlushFailureHandler receives storage failure signals.
type FlushFailureHandler func(FlushFailure)

var noopFlushFailureHandler = FlushFailureHandler(func(FlushFailure) {})

// Metrics holds optional callbacks invoked at key pipeline points.
type Metrics struct {
	// OnRecord is called for every LLM call accepted into the buffer.
	OnRecord func(call *event.Call)
	// OnSample is called for every sample written to storage.
	OnSample func(sample event.Sample)
	// OnDrop is called for every call discarded because a payload did not parse.
	OnDrop func(reason event.DropReason)
	// OnFlush is called after a flush has written its batch.
	OnFlush func(samples int, duration time.Duration)
}

// Stats is a point-in-time snapshot for diagnostics.
type Stats struct {
	Buffered             int              `json:"buffered"`
	RecordedTotal        int64            `json:"recorded_total"`
	SamplesWrittenTotal  int64            `json:"samples_written_total"`
	SamplesDroppedTotal  int64            `json:"samples_dropped_total"`
	FlushesTotal         int64            `json:"flushes_total"`
	FlushSkippedTotal    int64            `json:"flush_skipped_total"`
	RejectedAfterStop    int64            `json:"rejected_after_stop_total"`
	RegistryBacklog      int              `json:"registry_backlog"`
	FlushFailuresByClass map[string]int64 `json:"flush_failures_by_class,omitempty"`
	LastFlushAt          *time.Time       `json:"last_flush_at,omitempty"`
	LastFailureAt        *time.Time       `json:"last_failure_at,omitempty"`
	Stopped              bool             `json:"stopped"`
}

type Exporter struct {
	store            Store
	flushAtCount     int
	flushImmediately bool
	dataFolder       func() string
	writeTimeout     time.Duration
	registry         *providers.Registry
	logger           *slog.Logger

	mu         sync.Mutex
	buffer     []*event.Call
	generation uint64

	// flushMu is the non-reentrancy guard: triggers use TryLock and give up,
	// shutdown uses Lock to wait for an in-flight flush.
	flushMu sync.Mutex

	// registryBacklog is guarded by flushMu.
	registryBacklog []registryUpdate
	backlogLen      atomic.Int64

	kick         chan struct{}
	stop         chan struct{}
	loopDone     chan struct{}
	shutdownDone chan struct{}
	stopOnce     sync.Once
	stopped      atomic.Bool

	failureHandler atomic.Value // FlushFailureHandler
	metrics        atomic.Value // *Metrics

	recordedTotal       atomic.Int64
	samplesWrittenTotal atomic.Int64
	samplesDroppedTotal atomic.Int64
	flushesTotal        atomic.Int64
	flushSkippedTotal   atomic.Int64
	rejectedAfterStop   atomic.Int64
	lastFlushUnixNano   atomic.Int64
	lastFailureUnixNano atomic.Int64

	failuresMu      sync.Mutex
	failuresByClass map[string]int64
}

// New builds an exporter. Unless FlushImmediately is set, a background loop
// flushes every FlushInterval and whenever the buffer reaches FlushAtCount.
func New(store Store, opts Options) *Exporter {
	if opts.FlushAtCount <= 0 {
		opts.FlushAtCount = DefaultFlushAtCount
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Registry == nil {
		opts.Registry = providers.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Exporter{
		store:            store,
		flushAtCount:     opts.FlushAtCount,
		flushImmediately: opts.FlushImmediately,
		dataFolder:       opts.DataFolder,
		writeTimeout:     opts.WriteTimeout,
		registry:         opts.Registry,
		logger:           opts.Logger,
		kick:             make(chan struct{}, 1),
		stop:             make(chan struct{}),
		shutdownDone:     make(chan struct{}),
		failuresByClass:  make(map[string]int64),
	}
	e.failureHandler.Store(noopFlushFailureHandler)
	e.metrics.Store(&Metrics{})

	if !opts.FlushImmediately {
		e.loopDone = make(chan struct{})
		go e.run(opts.FlushInterval)
	}
	return e
}

func (e *Exporter) run(interval time.Duration) {
	defer close(e.loopDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.Flush()
		case <-e.kick:
			e.Flush()
		}
	}
}

// SetFlushFailureHandler replaces the callback used for storage failures.
func (e *Exporter) SetFlushFailureHandler(handler FlushFailureHandler) {
	if e == nil {
		return
	}
	if handler == nil {
		handler = noopFlushFailureHandler
	}
	e.failureHandler.Store(handler)
}

// SetMetrics replaces the metric callbacks.
func (e *Exporter) SetMetrics(m *Metrics) {
	if e == nil {
		return
	}
	if m == nil {
		m = &Metrics{}
	}
	e.metrics.Store(m)
}

func (e *Exporter) loadMetrics() *Metrics {
	m, _ := e.metrics.Load().(*Metrics)
	if m == nil {
		return &Metrics{}
	}
	return m
}

// Record buffers an LLM call. Calls not flagged as LLM requests are ignored.
func (e *Exporter) Record(call *event.Call) {
	if e == nil || call == nil || !call.IsLLMRequest {
		return
	}
	if e.stopped.Load() {
		e.rejectedAfterStop.Add(1)
		e.logger.Debug("exporter is shut down; call not recorded", "url", observability.ScrubURL(call.URL))
		return
	}

	e.mu.Lock()
	e.buffer = append(e.buffer, call)
	buffered := len(e.buffer)
	e.mu.Unlock()

	e.recordedTotal.Add(1)
	if m := e.loadMetrics(); m.OnRecord != nil {
		m.OnRecord(call)
	}

	if e.flushImmediately {
		e.Flush()
		return
	}
	if buffered >= e.flushAtCount {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

// Flush writes the buffered calls unless another flush is already running,
// in which case it returns at once.
func (e *Exporter) Flush() {
	if e == nil {
		return
	}
	if !e.flushMu.TryLock() {
		e.flushSkippedTotal.Add(1)
		return
	}
	defer e.flushMu.Unlock()
	e.drain()
}

// registryUpdate is a registry write owed for a call whose sample batch is
// already persisted.
type registryUpdate struct {
	folder   string
	location callsite.Location
	tag      string
}

// drain must run with flushMu held.
func (e *Exporter) drain() {
	defer func() {
		if r := recover(); r != nil {
			e.reportFailure(FlushFailure{Operation: "flush", Err: fmt.Errorf("flush panicked: %v", r)})
		}
	}()

	e.mu.Lock()
	pending := append([]*event.Call(nil), e.buffer...)
	generation := e.generation
	e.mu.Unlock()
	if len(pending) == 0 && len(e.registryBacklog) == 0 {
		return
	}

	folder := ""
	if e.dataFolder != nil {
		folder = strings.TrimSpace(e.dataFolder())
	}
	if folder == "" {
		e.logger.Error("data folder is not configured; buffered calls kept", "buffered", len(pending))
		return
	}
	if e.store == nil {
		e.logger.Error("no storage configured; buffered calls kept", "buffered", len(pending))
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	defer cancel()

	// Owed registry writes go first so entries are touched in record order.
	if !e.applyRegistryUpdates(ctx, e.registryBacklog) {
		return
	}
	if len(pending) == 0 {
		return
	}

	metrics := e.loadMetrics()
	samples := make([]event.Sample, 0, len(pending))
	for _, call := range pending {
		sample, reason, ok := event.NewSample(call, e.registry)
		if !ok {
			e.samplesDroppedTotal.Add(1)
			e.logger.Warn("dropping call with unparsable payload",
				"reason", string(reason),
				"url", observability.ScrubURL(call.URL),
				"status", call.Status,
			)
			if metrics.OnDrop != nil {
				metrics.OnDrop(reason)
			}
			continue
		}
		samples = append(samples, sample)
	}

	if len(samples) > 0 {
		if err := e.store.AppendSamples(ctx, folder, samples); err != nil {
			e.reportFailure(FlushFailure{Operation: "append_samples", BatchSize: len(samples), Err: err})
			return
		}
		e.samplesWrittenTotal.Add(int64(len(samples)))
		if metrics.OnSample != nil {
			for _, sample := range samples {
				metrics.OnSample(sample)
			}
		}
	}

	// The batch is persisted; from here on the calls never return to the buffer.
	e.mu.Lock()
	if e.generation == generation && len(e.buffer) >= len(pending) {
		e.buffer = append([]*event.Call(nil), e.buffer[len(pending):]...)
	}
	e.mu.Unlock()

	updates := make([]registryUpdate, 0, len(pending))
	for _, call := range pending {
		updates = append(updates, registryUpdate{folder: folder, location: call.Location, tag: call.RegistryTag()})
	}
	e.applyRegistryUpdates(ctx, updates)

	e.flushesTotal.Add(1)
	e.lastFlushUnixNano.Store(time.Now().UTC().UnixNano())
	e.logger.Debug("flushed captured calls", "calls", len(pending), "samples", len(samples), "data_folder", folder)
	if metrics.OnFlush != nil {
		metrics.OnFlush(len(samples), time.Since(start))
	}
}

// applyRegistryUpdates writes updates in order. The unwritten tail is kept
// as the backlog, so a failure or panic leaves exactly the owed writes.
func (e *Exporter) applyRegistryUpdates(ctx context.Context, updates []registryUpdate) bool {
	for i, update := range updates {
		e.setRegistryBacklog(updates[i:])
		if err := e.store.UpdateRegistry(ctx, update.folder, update.location, update.tag); err != nil {
			e.reportFailure(FlushFailure{Operation: "update_registry", BatchSize: len(updates) - i, Err: err})
			return false
		}
	}
	e.setRegistryBacklog(nil)
	return true
}

func (e *Exporter) setRegistryBacklog(updates []registryUpdate) {
	e.registryBacklog = updates
	e.backlogLen.Store(int64(len(updates)))
}

func (e *Exporter) reportFailure(failure FlushFailure) {
	failure.ErrorClass = ClassifyStorageError(failure.Err)
	e.lastFailureUnixNano.Store(time.Now().UTC().UnixNano())
	e.failuresMu.Lock()
	e.failuresByClass[failure.ErrorClass]++
	e.failuresMu.Unlock()

	e.logger.Error("flush failed; unwritten work kept for retry",
		"operation", failure.Operation,
		"batch_size", failure.BatchSize,
		"error_class", failure.ErrorClass,
		"error", observability.ScrubCredentials(failure.Err.Error()),
	)
	if handler, ok := e.failureHandler.Load().(FlushFailureHandler); ok && handler != nil {
		handler(failure)
	}
}

// Shutdown stops the flush loop and performs a final flush, waiting for any
// flush already in progress. Calls after the first return the same outcome.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		go func() {
			defer close(e.shutdownDone)
			if e.loopDone != nil {
				close(e.stop)
				<-e.loopDone
			}
			e.flushMu.Lock()
			defer e.flushMu.Unlock()
			e.drain()
		}()
	})

	select {
	case <-e.shutdownDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards buffered calls without writing them.
func (e *Exporter) Clear() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.buffer = nil
	e.generation++
	e.mu.Unlock()
}

// Len returns the number of buffered calls.
func (e *Exporter) Len() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

func (e *Exporter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	snapshot := Stats{
		Buffered:            e.Len(),
		RecordedTotal:       e.recordedTotal.Load(),
		SamplesWrittenTotal: e.samplesWrittenTotal.Load(),
		SamplesDroppedTotal: e.samplesDroppedTotal.Load(),
		FlushesTotal:        e.flushesTotal.Load(),
		FlushSkippedTotal:   e.flushSkippedTotal.Load(),
		RejectedAfterStop:   e.rejectedAfterStop.Load(),
		RegistryBacklog:     int(e.backlogLen.Load()),
		Stopped:             e.stopped.Load(),
	}
	if ts := e.lastFlushUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastFlushAt = &last
	}
	if ts := e.lastFailureUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastFailureAt = &last
	}
	e.failuresMu.Lock()
	if len(e.failuresByClass) > 0 {
		snapshot.FlushFailuresByClass = make(map[string]int64, len(e.failuresByClass))
		for class, count := range e.failuresByClass {
			snapshot.FlushFailuresByClass[class] = count
		}
	}
	e.failuresMu.Unlock()
	return snapshot
}
