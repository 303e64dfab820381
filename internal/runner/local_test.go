package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haricheung/memexcli/internal/policytool"
	"github.com/haricheung/memexcli/internal/types"
)

func newLocalSession(t *testing.T, policy *policytool.Tracker) *Session {
	t.Helper()
	cfg := Config{Backend: types.BackendLocal, EventFormat: "marker", Policy: policy}
	s, err := Spawn(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return s
}

func TestRunLocalExecutesShellAndRecordsToolEvents(t *testing.T) {
	s := newLocalSession(t, nil)
	if err := s.WriteStdin(context.Background(), []byte(`tool=shell command="echo hi"`)); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	outcome, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", outcome.ExitCode)
	}
	if !strings.Contains(outcome.StdoutTail, "hi") {
		t.Errorf("stdout tail = %q, want it to contain \"hi\"", outcome.StdoutTail)
	}
	if len(outcome.ToolEvents) != 2 {
		t.Fatalf("tool events = %+v, want a call+result pair", outcome.ToolEvents)
	}
	if outcome.ToolEvents[0].Kind != types.ToolEventCall || outcome.ToolEvents[1].Kind != types.ToolEventResult {
		t.Errorf("unexpected tool event kinds: %+v", outcome.ToolEvents)
	}
}

func TestRunLocalWriteFileThenReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	s := newLocalSession(t, nil)
	req := `tool=write_file path="` + path + `" content="hello world"`
	if err := s.WriteStdin(context.Background(), []byte(req)); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	if _, err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("file content = %q, want %q", string(data), "hello world")
	}
}

func TestRunLocalDeniedToolReturnsPolicyDenyError(t *testing.T) {
	tracker := policytool.NewTracker(policytool.Config{Default: policytool.Deny})
	s := newLocalSession(t, tracker)

	if err := s.WriteStdin(context.Background(), []byte(`tool=shell command="rm -rf /"`)); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	outcome, err := s.Wait()
	if err == nil {
		t.Fatal("expected a policy-deny error")
	}
	if outcome.ExitCode == 0 {
		t.Errorf("exit code = %d, want non-zero for a denied call", outcome.ExitCode)
	}
}

func TestRunLocalMalformedDirectiveFailsCleanly(t *testing.T) {
	s := newLocalSession(t, nil)
	if err := s.WriteStdin(context.Background(), []byte("not a marker line at all")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	outcome, err := s.Wait()
	if err == nil {
		t.Fatal("expected a parse error for a malformed directive")
	}
	if outcome.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", outcome.ExitCode)
	}
}
