package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/collector/internal/event"
)

const (
	// EventsDir holds the JSONL shards inside a data folder.
	EventsDir = "events"
	// ShardWindow is how long a shard keeps receiving appends after it was
	// first written.
	ShardWindow = 10 * time.Minute

	shardSuffix = ".jsonl"
)

// shardTimestamp returns the unix-ms stamp embedded in a shard name.
func shardTimestamp(name string) (int64, bool) {
	if !strings.HasSuffix(name, shardSuffix) {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(name, shardSuffix), 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return ms, true
}

// pickShard returns the shard name a batch written at now should go to:
// the newest existing shard when it is still inside the window, otherwise a
// new one named by now.
func pickShard(names []string, now time.Time) string {
	nowMS := now.UnixMilli()
	var latest int64
	for _, name := range names {
		if ms, ok := shardTimestamp(name); ok && ms > latest {
			latest = ms
		}
	}
	target := nowMS
	if latest > 0 && nowMS-latest < ShardWindow.Milliseconds() {
		target = latest
	}
	return strconv.FormatInt(target, 10) + shardSuffix
}

// encodeBatch renders samples as JSON lines. The result is written in one
// call so concurrent batches never interleave partial lines.
func encodeBatch(samples []event.Sample) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range samples {
		if err := enc.Encode(&samples[i]); err != nil {
			return nil, fmt.Errorf("encode sample %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
