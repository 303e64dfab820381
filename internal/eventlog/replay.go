package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/haricheung/memexcli/internal/types"
)

// RawEvent is a partially-decoded event: Data stays as json.RawMessage so
// Replay can reconstruct UI events without knowing every EventType's payload
// shape, and so readers tolerate unknown types per §4.1.
type RawEvent struct {
	V     int             `json:"v"`
	Type  types.EventType `json:"type"`
	TS    string          `json:"ts"`
	RunID string          `json:"run_id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Replay produces the event stream at path suitable for UI reconstruction.
// It performs no side effects — no memory writes, no process spawns — per
// testable property 1 (replay determinism).
func Replay(path string) ([]RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open for replay: %w", err)
	}
	defer f.Close()

	var events []RawEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt RawEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			// Forward-compatible: skip lines this reader cannot even parse as
			// an envelope, rather than aborting the whole replay.
			continue
		}
		events = append(events, evt)
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("eventlog: scan: %w", err)
	}
	return events, nil
}

// LastRunEnd returns the index of the last run.end event in events, or -1 if
// absent — used by resume to locate the point a log was last known-consistent.
func LastRunEnd(events []RawEvent) int {
	last := -1
	for i, e := range events {
		if e.Type == types.EventRunEnd {
			last = i
		}
	}
	return last
}

// PathForRun returns the conventional on-disk path for a run's event log
// under dir, matching the naming Registry.Open uses.
func PathForRun(dir, runID string) string {
	return dir + string(os.PathSeparator) + runID + ".events.jsonl"
}
