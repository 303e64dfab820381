// Package eventlog implements the append-only JSON-lines record of every
// observable engine action for one Run.
//
// Design constraints, carried over from the project's existing per-task
// logger:
//   - All Log methods are nil-safe (no-op on nil receiver) so callers don't
//     need nil checks before every log call.
//   - Registry is the sole owner of file lifecycle; callers never open files
//     directly.
//   - Writes are flushed at least at every tool.result, memory.*.write, and
//     run.end, per the flush discipline in spec §4.1.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haricheung/memexcli/internal/types"
)

// flushAlways names the event types that trigger an fsync-equivalent flush
// immediately after the write, per the spec's flush discipline.
var flushAlways = map[types.EventType]bool{
	types.EventToolResult:            true,
	types.EventMemoryHitWrite:        true,
	types.EventMemoryValidationWrite: true,
	types.EventMemoryCandidateWrite:  true,
	types.EventRunEnd:                true,
}

// Log is a handle for appending events for one Run.
type Log struct {
	runID string
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
}

// Registry maps run IDs to open Logs and is the sole authority for creating
// and closing event log files under dir.
type Registry struct {
	dir string
	mu  sync.Mutex
	logs map[string]*Log
}

// NewRegistry creates a Registry that writes one "<run_id>.events.jsonl" file
// per run under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, logs: make(map[string]*Log)}
}

// Open creates (or returns the already-open) Log for runID and writes
// run.start as the first line.
func (r *Registry) Open(run types.Run) *Log {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.logs[run.RunID]; ok {
		return l
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Warn("eventlog: could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, run.RunID+".events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("eventlog: could not open log", "path", path, "error", err)
		return nil
	}
	l := &Log{runID: run.RunID, f: f, w: bufio.NewWriter(f)}
	r.logs[run.RunID] = l
	l.append(types.Event{
		V:     types.SchemaVersion,
		Type:  types.EventRunStart,
		TS:    time.Now().UTC(),
		RunID: run.RunID,
		Data:  run,
	})
	return l
}

// Path returns the on-disk path Open/Close use for runID, whether or not
// that run's Log is currently open — for readers (e.g. engine.Replay,
// Resume's parent-continuity lookup) that need to reach a closed run's file.
func (r *Registry) Path(runID string) string {
	return filepath.Join(r.dir, runID+".events.jsonl")
}

// Get returns the Log for runID, or nil if not currently open.
func (r *Registry) Get(runID string) *Log {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[runID]
}

// Close writes a run.end event, flushes and closes the file, and removes the
// entry from the registry. data is typically a types.RunOutcome, whose
// Reason field (set by the caller before Close) makes a cancelled/timed-out
// run's termination reason recoverable straight from run.end rather than
// only inferable from exit code. Safe to call on a nil Registry or unknown
// runID.
func (r *Registry) Close(runID string, exitCode int, data any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	l, ok := r.logs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, runID)
	r.mu.Unlock()

	l.append(types.Event{
		V:     types.SchemaVersion,
		Type:  types.EventRunEnd,
		TS:    time.Now().UTC(),
		RunID: runID,
		Data:  data,
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_ = l.w.Flush()
		_ = l.f.Close()
		l.f = nil
	}
}

// ReadEvents parses a run.events.jsonl file (or any file in that format)
// into its ordered Event slice, for replay (spec §4.1, testable property 1:
// "replaying its event log reproduces the same sequence of observable UI
// events ... with no memory writes").
func ReadEvents(path string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", types.ErrIO, path, err)
	}
	defer f.Close()

	var events []types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt types.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return events, fmt.Errorf("%w: line %d of %s: %v", types.ErrIO, lineNo, path, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("%w: reading %s: %v", types.ErrIO, path, err)
	}
	return events, nil
}

// Append writes one event. Nil-safe.
func (l *Log) Append(evt types.Event) {
	if l == nil {
		return
	}
	if evt.V == 0 {
		evt.V = types.SchemaVersion
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	l.append(evt)
}

func (l *Log) append(evt types.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("eventlog: marshal failed", "run_id", evt.RunID, "error", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := fmt.Fprintf(l.w, "%s\n", data); err != nil {
		slog.Error("eventlog: write failed", "run_id", evt.RunID, "error", err)
		return
	}
	if flushAlways[evt.Type] {
		if err := l.w.Flush(); err != nil {
			slog.Error("eventlog: flush failed", "run_id", evt.RunID, "error", err)
		}
	}
}
