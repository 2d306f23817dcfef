package exporter

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/event"
)

type registryWrite struct {
	folder   string
	location callsite.Location
	tag      string
}

type recordingStore struct {
	mu         sync.Mutex
	appends    [][]event.Sample
	folders    []string
	registry   []registryWrite
	appendErrs []error

	// registryErrs is consumed one entry per UpdateRegistry call; nil succeeds.
	registryErrs  []error
	registryPanic bool

	// block, when set, holds the first AppendSamples call until release closes.
	block   bool
	started chan struct{}
	release chan struct{}
}

func newBlockingStore() *recordingStore {
	return &recordingStore{
		block:   true,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *recordingStore) AppendSamples(_ context.Context, folder string, samples []event.Sample) error {
	s.mu.Lock()
	shouldBlock := s.block
	s.block = false
	s.mu.Unlock()
	if shouldBlock {
		close(s.started)
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.appendErrs) > 0 {
		err := s.appendErrs[0]
		s.appendErrs = s.appendErrs[1:]
		return err
	}
	s.appends = append(s.appends, append([]event.Sample(nil), samples...))
	s.folders = append(s.folders, folder)
	return nil
}

func (s *recordingStore) UpdateRegistry(_ context.Context, folder string, location callsite.Location, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registryPanic {
		panic("registry document corrupted")
	}
	if len(s.registryErrs) > 0 {
		err := s.registryErrs[0]
		s.registryErrs = s.registryErrs[1:]
		if err != nil {
			return err
		}
	}
	s.registry = append(s.registry, registryWrite{folder: folder, location: location, tag: tag})
	return nil
}

func (s *recordingStore) Appends() [][]event.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]event.Sample(nil), s.appends...)
}

func (s *recordingStore) Registry() []registryWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registryWrite(nil), s.registry...)
}

func (s *recordingStore) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, batch := range s.appends {
		total += len(batch)
	}
	return total
}

func staticFolder(folder string) func() string {
	return func() string { return folder }
}

func llmCall(tag, content string) *event.Call {
	start := time.UnixMilli(1_700_000_000_000)
	return &event.Call{
		URL:          "https://api.openai.com/v1/chat/completions",
		Method:       "POST",
		Status:       200,
		RequestBody:  `{"model":"gpt-4o","messages":[{"role":"user","content":"` + content + `"}]}`,
		ResponseBody: `{"choices":[{"message":{"content":"ok"}}]}`,
		StartTime:    start,
		EndTime:      start.Add(10 * time.Millisecond),
		Tag:          tag,
		Location:     callsite.Location{File: "/app/main.go", LineNumber: "7"},
		IsLLMRequest: true,
	}
}

func waitFor(t *testing.T, timeout time.Duration, predicate func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func inputContents(batch []event.Sample) []string {
	out := make([]string, 0, len(batch))
	for _, sample := range batch {
		for _, msg := range sample.Input {
			out = append(out, msg.Content)
		}
	}
	return out
}

func shutdown(t *testing.T, e *Exporter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestFlushImmediatelyWritesEachCall(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushImmediately: true, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	e.Record(llmCall("", "first"))

	appends := store.Appends()
	if len(appends) != 1 || len(appends[0]) != 1 {
		t.Fatalf("appends=%v, want one batch of one sample", appends)
	}
	if got := appends[0][0].Tag; got != "" {
		t.Fatalf("sample tag=%q, want empty", got)
	}
	wantRegistry := []registryWrite{{
		folder:   "/data",
		location: callsite.Location{File: "/app/main.go", LineNumber: "7"},
		tag:      event.UntaggedRegistryTag,
	}}
	if diff := cmp.Diff(wantRegistry, store.Registry(), cmp.AllowUnexported(registryWrite{})); diff != "" {
		t.Fatalf("registry writes mismatch (-want +got):\n%s", diff)
	}
	if got := e.Len(); got != 0 {
		t.Fatalf("Len()=%d, want 0", got)
	}
}

func TestRecordIgnoresNonLLMCalls(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushImmediately: true, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	call := llmCall("", "x")
	call.IsLLMRequest = false
	e.Record(call)
	e.Record(nil)

	if got := e.Len(); got != 0 {
		t.Fatalf("Len()=%d, want 0", got)
	}
	if got := e.Stats().RecordedTotal; got != 0 {
		t.Fatalf("RecordedTotal=%d, want 0", got)
	}
	if got := len(store.Appends()); got != 0 {
		t.Fatalf("appends=%d, want 0", got)
	}
}

func TestThresholdTriggersFlush(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushAtCount: 2, FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	e.Record(llmCall("a", "one"))
	if got := len(store.Appends()); got != 0 {
		t.Fatalf("appends after first call=%d, want 0", got)
	}
	e.Record(llmCall("b", "two"))

	waitFor(t, 2*time.Second, func() bool { return store.SampleCount() == 2 })
	appends := store.Appends()
	if diff := cmp.Diff([]string{"one", "two"}, inputContents(appends[0])); diff != "" {
		t.Fatalf("batch order mismatch (-want +got):\n%s", diff)
	}
	waitFor(t, time.Second, func() bool { return e.Len() == 0 })
}

func TestIntervalTriggersFlush(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushAtCount: 100, FlushInterval: 20 * time.Millisecond, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	e.Record(llmCall("", "tick"))
	waitFor(t, 2*time.Second, func() bool { return store.SampleCount() == 1 })
}

func TestMissingDataFolderKeepsBuffer(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	folder := ""
	store := &recordingStore{}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: func() string {
		mu.Lock()
		defer mu.Unlock()
		return folder
	}})
	defer shutdown(t, e)

	e.Record(llmCall("", "kept"))
	e.Flush()
	if got := e.Len(); got != 1 {
		t.Fatalf("Len() without folder=%d, want 1", got)
	}
	if got := len(store.Appends()); got != 0 {
		t.Fatalf("appends without folder=%d, want 0", got)
	}

	mu.Lock()
	folder = "/data"
	mu.Unlock()
	e.Flush()
	if got := store.SampleCount(); got != 1 {
		t.Fatalf("samples after folder set=%d, want 1", got)
	}
	if got := e.Len(); got != 0 {
		t.Fatalf("Len() after flush=%d, want 0", got)
	}
}

func TestStorageFailureKeepsBufferForRetry(t *testing.T) {
	t.Parallel()

	store := &recordingStore{appendErrs: []error{syscall.ENOSPC}}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	var failures []FlushFailure
	e.SetFlushFailureHandler(func(f FlushFailure) { failures = append(failures, f) })

	e.Record(llmCall("", "retry"))
	e.Flush()
	if got := e.Len(); got != 1 {
		t.Fatalf("Len() after failure=%d, want 1", got)
	}
	if len(failures) != 1 {
		t.Fatalf("failures=%d, want 1", len(failures))
	}
	if failures[0].Operation != "append_samples" || failures[0].ErrorClass != StorageErrorClassDiskFull {
		t.Fatalf("failure=%+v, want append_samples/disk_full", failures[0])
	}
	if got := len(store.Registry()); got != 0 {
		t.Fatalf("registry writes after failed append=%d, want 0", got)
	}

	e.Flush()
	if got := store.SampleCount(); got != 1 {
		t.Fatalf("samples after retry=%d, want 1", got)
	}
	stats := e.Stats()
	if stats.Buffered != 0 || stats.FlushFailuresByClass[StorageErrorClassDiskFull] != 1 || stats.LastFailureAt == nil {
		t.Fatalf("stats=%+v, want empty buffer with one disk_full failure", stats)
	}
}

func TestRegistryFailureRetriesOnlyUnwrittenUpdates(t *testing.T) {
	t.Parallel()

	store := &recordingStore{registryErrs: []error{nil, syscall.ENOSPC}}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	var failures []FlushFailure
	e.SetFlushFailureHandler(func(f FlushFailure) { failures = append(failures, f) })

	first := llmCall("a", "one")
	second := llmCall("b", "two")
	second.Location = callsite.Location{File: "/app/main.go", LineNumber: "8"}
	e.Record(first)
	e.Record(second)
	e.Flush()

	if got := store.SampleCount(); got != 2 {
		t.Fatalf("samples=%d, want 2", got)
	}
	if got := e.Len(); got != 0 {
		t.Fatalf("Len() after persisted batch=%d, want 0", got)
	}
	if got := e.Stats().RegistryBacklog; got != 1 {
		t.Fatalf("registry backlog=%d, want 1", got)
	}
	if len(failures) != 1 || failures[0].Operation != "update_registry" || failures[0].BatchSize != 1 {
		t.Fatalf("failures=%+v, want one update_registry failure for 1 update", failures)
	}

	third := llmCall("c", "three")
	third.Location = callsite.Location{File: "/app/main.go", LineNumber: "9"}
	e.Record(third)
	e.Flush()

	if got := len(store.Appends()); got != 2 {
		t.Fatalf("appends=%d, want 2", got)
	}
	if got := store.SampleCount(); got != 3 {
		t.Fatalf("samples=%d, want 3 with no duplicates", got)
	}
	var tags []string
	for _, write := range store.Registry() {
		tags = append(tags, write.tag)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, tags); diff != "" {
		t.Fatalf("registry writes mismatch (-want +got):\n%s", diff)
	}
	if got := e.Stats().RegistryBacklog; got != 0 {
		t.Fatalf("registry backlog=%d, want 0", got)
	}
}

func TestFlushRecoversFromStoragePanic(t *testing.T) {
	t.Parallel()

	store := &recordingStore{registryPanic: true}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	var failures []FlushFailure
	e.SetFlushFailureHandler(func(f FlushFailure) { failures = append(failures, f) })

	e.Record(llmCall("", "boom"))
	e.Flush()

	if len(failures) != 1 || failures[0].Operation != "flush" {
		t.Fatalf("failures=%+v, want one flush failure", failures)
	}
	stats := e.Stats()
	if stats.FlushFailuresByClass[StorageErrorClassUnknown] != 1 || stats.RegistryBacklog != 1 {
		t.Fatalf("stats=%+v, want one unknown failure and one owed registry write", stats)
	}

	store.mu.Lock()
	store.registryPanic = false
	store.mu.Unlock()
	e.Flush()
	if got := len(store.Registry()); got != 1 {
		t.Fatalf("registry writes after recovery=%d, want 1", got)
	}
}

func TestUnparsableCallDroppedButRegistryUpdated(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	var drops []event.DropReason
	e.SetMetrics(&Metrics{OnDrop: func(reason event.DropReason) { drops = append(drops, reason) }})

	bad := llmCall("broken", "x")
	bad.RequestBody = "not json"
	e.Record(bad)
	e.Record(llmCall("", "good"))
	e.Flush()

	appends := store.Appends()
	if len(appends) != 1 || len(appends[0]) != 1 {
		t.Fatalf("appends=%v, want one batch with the parsable call", appends)
	}
	registry := store.Registry()
	if len(registry) != 2 || registry[0].tag != "broken" || registry[1].tag != event.UntaggedRegistryTag {
		t.Fatalf("registry=%+v, want broken then untagged", registry)
	}
	if diff := cmp.Diff([]event.DropReason{event.DropRequestUnparsed}, drops); diff != "" {
		t.Fatalf("drop reasons mismatch (-want +got):\n%s", diff)
	}
	if got := e.Stats().SamplesDroppedTotal; got != 1 {
		t.Fatalf("SamplesDroppedTotal=%d, want 1", got)
	}
	if got := e.Len(); got != 0 {
		t.Fatalf("Len()=%d, want 0", got)
	}
}

func TestFlushIsNotReentrant(t *testing.T) {
	t.Parallel()

	store := newBlockingStore()
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	e.Record(llmCall("", "a"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Flush()
	}()
	<-store.started

	e.Flush()
	if got := e.Stats().FlushSkippedTotal; got != 1 {
		t.Fatalf("FlushSkippedTotal=%d, want 1", got)
	}

	close(store.release)
	<-done
	if got := len(store.Appends()); got != 1 {
		t.Fatalf("appends=%d, want 1", got)
	}
}

func TestRecordDuringFlushIsRetained(t *testing.T) {
	t.Parallel()

	store := newBlockingStore()
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	e.Record(llmCall("", "first"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Flush()
	}()
	<-store.started
	e.Record(llmCall("", "second"))
	close(store.release)
	<-done

	if got := e.Len(); got != 1 {
		t.Fatalf("Len() after flush=%d, want 1", got)
	}
	e.Flush()
	appends := store.Appends()
	if len(appends) != 2 {
		t.Fatalf("appends=%d, want 2", len(appends))
	}
	if diff := cmp.Diff([]string{"second"}, inputContents(appends[1])); diff != "" {
		t.Fatalf("second batch mismatch (-want +got):\n%s", diff)
	}
}

func TestClearDuringFlushKeepsNewCalls(t *testing.T) {
	t.Parallel()

	store := newBlockingStore()
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	e.Record(llmCall("", "old"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Flush()
	}()
	<-store.started
	e.Clear()
	e.Record(llmCall("", "new"))
	close(store.release)
	<-done

	if got := e.Len(); got != 1 {
		t.Fatalf("Len()=%d, want 1", got)
	}
}

func TestShutdownDrainsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})

	e.Record(llmCall("", "a"))
	e.Record(llmCall("", "b"))
	shutdown(t, e)

	if got := store.SampleCount(); got != 2 {
		t.Fatalf("samples after shutdown=%d, want 2", got)
	}
	shutdown(t, e)
	if got := len(store.Appends()); got != 1 {
		t.Fatalf("appends after second shutdown=%d, want 1", got)
	}

	e.Record(llmCall("", "late"))
	stats := e.Stats()
	if stats.Buffered != 0 || stats.RejectedAfterStop != 1 || !stats.Stopped {
		t.Fatalf("stats=%+v, want stopped with one rejected call", stats)
	}
}

func TestShutdownWaitsForInFlightFlush(t *testing.T) {
	t.Parallel()

	store := newBlockingStore()
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})

	e.Record(llmCall("", "first"))
	go e.Flush()
	<-store.started
	e.Record(llmCall("", "second"))

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- e.Shutdown(context.Background()) }()

	select {
	case err := <-shutdownErr:
		t.Fatalf("Shutdown() returned %v before the in-flight flush finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	if err := <-shutdownErr; err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if got := store.SampleCount(); got != 2 {
		t.Fatalf("samples=%d, want 2", got)
	}
}

func TestShutdownHonorsContext(t *testing.T) {
	t.Parallel()

	store := newBlockingStore()
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})

	e.Record(llmCall("", "slow"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Shutdown(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Shutdown() error=%v, want context.Canceled", err)
	}

	close(store.release)
	shutdown(t, e)
	if got := store.SampleCount(); got != 1 {
		t.Fatalf("samples=%d, want 1", got)
	}
}

func TestMetricsCallbacks(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	e := New(store, Options{FlushInterval: time.Hour, DataFolder: staticFolder("/data")})
	defer shutdown(t, e)

	var recorded, sampled, flushed int
	e.SetMetrics(&Metrics{
		OnRecord: func(*event.Call) { recorded++ },
		OnSample: func(s event.Sample) {
			if s.Provider == "openai" {
				sampled++
			}
		},
		OnFlush: func(samples int, _ time.Duration) { flushed += samples },
	})

	e.Record(llmCall("", "a"))
	e.Record(llmCall("", "b"))
	e.Flush()

	if recorded != 2 || sampled != 2 || flushed != 2 {
		t.Fatalf("recorded=%d sampled=%d flushed=%d, want 2 each", recorded, sampled, flushed)
	}
}
