package capture

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ongoingai/collector/internal/allowlist"
)

const chatRequest = `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"ping"}]}`
const chatResponse = `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`

func TestTransportRecordsAllowlistedCall(t *testing.T) {
	t.Parallel()

	server, seen := newEchoServer(t, "application/json", chatResponse)
	recorder := &collectingRecorder{}
	client := &http.Client{Transport: NewTransport(http.DefaultTransport, Options{
		Allowlist: allowServer(t, server),
		Recorder:  recorder,
	})}

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", strings.NewReader(chatRequest))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderName, "smoke")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()

	if string(body) != chatResponse {
		t.Fatalf("response body=%q, want %q", body, chatResponse)
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Fatalf("response header X-Upstream=%q, want yes", resp.Header.Get("X-Upstream"))
	}
	if req.Header.Get(HeaderName) != "smoke" {
		t.Fatal("caller request header was mutated")
	}

	if len(seen()) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(seen()))
	}
	if got := seen()[0].header.Get(HeaderName); got != "" {
		t.Fatalf("tag header reached upstream: %q", got)
	}
	if seen()[0].body != chatRequest {
		t.Fatalf("upstream body=%q, want %q", seen()[0].body, chatRequest)
	}

	calls := recorder.snapshot()
	if len(calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.Tag != "smoke" {
		t.Fatalf("tag=%q, want smoke", call.Tag)
	}
	if call.RequestBody != chatRequest {
		t.Fatalf("request body=%q, want %q", call.RequestBody, chatRequest)
	}
	if call.ResponseBody != chatResponse {
		t.Fatalf("response body=%q, want %q", call.ResponseBody, chatResponse)
	}
	if call.Status != http.StatusOK || call.Method != http.MethodPost {
		t.Fatalf("status=%d method=%q, want 200 POST", call.Status, call.Method)
	}
	if !call.IsLLMRequest {
		t.Fatal("IsLLMRequest=false, want true")
	}
	if call.EndTime.Before(call.StartTime) {
		t.Fatalf("end %v before start %v", call.EndTime, call.StartTime)
	}
	if filepath.Base(call.Location.File) != "transport_test.go" {
		t.Fatalf("location file=%q, want transport_test.go", call.Location.File)
	}
}

func TestTransportSkipsNonAllowlistedHostButStripsTag(t *testing.T) {
	t.Parallel()

	server, seen := newEchoServer(t, "application/json", `{"ok":true}`)
	recorder := &collectingRecorder{}
	client := &http.Client{Transport: NewTransport(nil, Options{
		Allowlist: allowlist.New([]string{"api.openai.com"}),
		Recorder:  recorder,
	})}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	req.Header["x-ongoingai-tag"] = []string{"ignored"}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("recorded %d calls for non-allowlisted host, want 0", got)
	}
	if got := seen()[0].header.Get(HeaderName); got != "" {
		t.Fatalf("tag header reached upstream: %q", got)
	}
}

func TestTransportRecordsOnCloseWithoutFullRead(t *testing.T) {
	t.Parallel()

	server, _ := newEchoServer(t, "application/json", chatResponse)
	recorder := &collectingRecorder{}
	client := &http.Client{Transport: NewTransport(nil, Options{Allowlist: allowServer(t, server), Recorder: recorder})}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(chatRequest))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("recorded %d calls before body consumption, want 0", got)
	}
	buf := make([]byte, 4)
	_, _ = resp.Body.Read(buf)
	_ = resp.Body.Close()
	_ = resp.Body.Close()

	calls := recorder.snapshot()
	if len(calls) != 1 {
		t.Fatalf("recorded %d calls, want exactly 1", len(calls))
	}
	if !strings.HasPrefix(chatResponse, calls[0].ResponseBody) {
		t.Fatalf("partial response body=%q is not a prefix of upstream body", calls[0].ResponseBody)
	}
}

func TestTransportStreamingResponseRecordedAfterEOF(t *testing.T) {
	t.Parallel()

	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"
	server, _ := newEchoServer(t, "text/event-stream", stream)
	recorder := &collectingRecorder{}
	var logs bytes.Buffer
	client := &http.Client{Transport: NewTransport(nil, Options{
		Allowlist: allowServer(t, server),
		Recorder:  recorder,
		Logger:    slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(chatRequest))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	var got bytes.Buffer
	small := make([]byte, 7)
	for {
		n, readErr := resp.Body.Read(small)
		got.Write(small[:n])
		if readErr != nil {
			break
		}
	}
	_ = resp.Body.Close()

	if got.String() != stream {
		t.Fatalf("application read %q, want %q", got.String(), stream)
	}
	calls := recorder.snapshot()
	if len(calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(calls))
	}
	if calls[0].ResponseBody != stream {
		t.Fatalf("captured stream=%q, want %q", calls[0].ResponseBody, stream)
	}

	_, after, found := strings.Cut(logs.String(), "response_chunks=")
	if !found {
		t.Fatalf("debug log missing response_chunks:\n%s", logs.String())
	}
	chunks, err := strconv.Atoi(strings.Fields(after)[0])
	if err != nil || chunks < 2 {
		t.Fatalf("response_chunks=%q, want the stream read in several chunks", strings.Fields(after)[0])
	}
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}

func TestTransportPropagatesErrorsWithoutRecording(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("connection refused")
	recorder := &collectingRecorder{}
	transport := NewTransport(failingTransport{err: wantErr}, Options{
		Allowlist: allowlist.New([]string{"api.openai.com"}),
		Recorder:  recorder,
	})

	req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", strings.NewReader(chatRequest))
	resp, err := transport.RoundTrip(req)
	if !errors.Is(err, wantErr) {
		t.Fatalf("RoundTrip() error=%v, want %v", err, wantErr)
	}
	if resp != nil {
		t.Fatalf("RoundTrip() resp=%v, want nil", resp)
	}
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("recorded %d calls on transport error, want 0", got)
	}
}

func TestTransportTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	large := strings.Repeat("x", 64)
	server, _ := newEchoServer(t, "text/plain", large)
	recorder := &collectingRecorder{}
	client := &http.Client{Transport: NewTransport(nil, Options{
		Allowlist:    allowServer(t, server),
		Recorder:     recorder,
		MaxBodyBytes: 16,
	})}

	resp, err := client.Post(server.URL, "text/plain", strings.NewReader(large))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if len(body) != 64 {
		t.Fatalf("application body len=%d, want 64", len(body))
	}

	call := recorder.snapshot()[0]
	if len(call.ResponseBody) != 16 || !call.ResponseTruncated {
		t.Fatalf("captured response len=%d truncated=%v, want 16 true", len(call.ResponseBody), call.ResponseTruncated)
	}
	if len(call.RequestBody) != 16 || !call.RequestTruncated {
		t.Fatalf("captured request len=%d truncated=%v, want 16 true", len(call.RequestBody), call.RequestTruncated)
	}
}
