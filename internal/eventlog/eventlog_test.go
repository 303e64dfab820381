package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/haricheung/memexcli/internal/types"
)

func TestRegistryOpenWritesRunStart(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	run := types.Run{RunID: "r1", ProjectID: "p1", Query: "hello"}

	l := reg.Open(run)
	if l == nil {
		t.Fatalf("Open returned nil")
	}
	reg.Close("r1", 0, map[string]any{"exit_code": 0})

	events, err := Replay(filepath.Join(dir, "r1.events.jsonl"))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 events (start, end), got %d", len(events))
	}
	if events[0].Type != types.EventRunStart {
		t.Errorf("first event = %s, want run.start", events[0].Type)
	}
	if events[len(events)-1].Type != types.EventRunEnd {
		t.Errorf("last event = %s, want run.end", events[len(events)-1].Type)
	}
}

func TestRegistryOpenIdempotent(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	run := types.Run{RunID: "r1"}

	l1 := reg.Open(run)
	l2 := reg.Open(run)
	if l1 != l2 {
		t.Errorf("Open called twice for same run_id should return the same handle")
	}
}

func TestRegistryCloseUnknownRunIsNoop(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	reg.Close("does-not-exist", 1, nil) // must not panic
}

func TestNilLogAppendIsNoop(t *testing.T) {
	var l *Log
	l.Append(types.Event{Type: types.EventToolCall}) // must not panic
}

func TestRunEndIsLastAndExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	run := types.Run{RunID: "r2"}
	l := reg.Open(run)
	l.Append(types.Event{Type: types.EventToolCall, RunID: "r2"})
	l.Append(types.Event{Type: types.EventToolResult, RunID: "r2"})
	reg.Close("r2", 0, nil)

	events, err := Replay(filepath.Join(dir, "r2.events.jsonl"))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	count := 0
	for i, e := range events {
		if e.Type == types.EventRunEnd {
			count++
			if i != len(events)-1 {
				t.Errorf("run.end at index %d, want last index %d", i, len(events)-1)
			}
		}
	}
	if count != 1 {
		t.Errorf("run.end count = %d, want 1", count)
	}
}

func TestLastRunEnd(t *testing.T) {
	events := []RawEvent{
		{Type: types.EventRunStart},
		{Type: types.EventToolCall},
		{Type: types.EventRunEnd},
	}
	if got := LastRunEnd(events); got != 2 {
		t.Errorf("LastRunEnd = %d, want 2", got)
	}
	if got := LastRunEnd(events[:1]); got != -1 {
		t.Errorf("LastRunEnd with no run.end = %d, want -1", got)
	}
}
