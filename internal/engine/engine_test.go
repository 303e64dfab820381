package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/memexcli/internal/eventlog"
	"github.com/haricheung/memexcli/internal/gatekeeper"
	"github.com/haricheung/memexcli/internal/inject"
	"github.com/haricheung/memexcli/internal/memory"
	"github.com/haricheung/memexcli/internal/policytool"
	"github.com/haricheung/memexcli/internal/runner"
	"github.com/haricheung/memexcli/internal/session"
	"github.com/haricheung/memexcli/internal/types"
)

// fakeFacade is an in-memory memory.Facade stand-in that records every call
// for assertion, avoiding a real LevelDB handle or HTTP round trip in tests.
type fakeFacade struct {
	matches      []types.QARecord
	searchCalls  int
	hitRefs      []types.HitRef
	validations  []types.ValidatePlan
	candidates   []types.CandidateDraft
}

func (f *fakeFacade) Search(ctx context.Context, payload memory.SearchPayload) ([]types.QARecord, error) {
	f.searchCalls++
	return f.matches, nil
}

func (f *fakeFacade) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	f.hitRefs = append(f.hitRefs, refs...)
	return nil
}

func (f *fakeFacade) RecordValidation(ctx context.Context, projectID, qaID string, result memory.ValidationOutcome, notes string) error {
	f.validations = append(f.validations, types.ValidatePlan{QAID: qaID, Result: types.ValidationResult(result), Notes: notes})
	return nil
}

func (f *fakeFacade) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	f.candidates = append(f.candidates, draft)
	return nil
}

func (f *fakeFacade) TaskGrade(ctx context.Context, prompt string) (memory.Grade, error) {
	return memory.Grade{Level: "L1"}, nil
}

func (f *fakeFacade) Close() error { return nil }

// echoRunnerConfig spawns a real `cat` subprocess standing in for a backend:
// it writes the merged prompt straight back out on stdout, which is enough
// to exercise the ring buffer, RunOutcome plumbing, and the [QA:id] scanner
// without needing an actual codex/claude/gemini binary.
func echoRunnerConfig(spec RunSpec) runner.Config {
	return runner.Config{
		Backend: types.BackendCodex,
		Command: []string{"/bin/sh", "-c", "cat"},
		Timeout: 5 * time.Second,
	}
}

func newTestEngine(t *testing.T, facade memory.Facade) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	return &Engine{
		Memory:       facade,
		Events:       eventlog.NewRegistry(dir),
		Bus:          session.New(),
		Inject:       inject.DefaultConfig(),
		Gatekeeper:   gatekeeper.DefaultConfig(),
		Policy:       policytool.DefaultConfig(),
		RunnerConfig: echoRunnerConfig,
	}, dir
}

func TestRunExecutesThreePhasesAndReturnsExitCode(t *testing.T) {
	facade := &fakeFacade{
		matches: []types.QARecord{
			{QAID: "qa-1", Query: "how do I deploy", Answer: "use the deploy script", Score: 0.9, Trust: 0.9, ValidationLevel: types.LevelL2, Freshness: 0.5},
		},
	}
	eng, _ := newTestEngine(t, facade)

	exitCode, err := eng.Run(context.Background(), RunSpec{ProjectID: "proj-1", Query: "how do I deploy", Backend: types.BackendCodex})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("expected exit 0, got %d", exitCode)
	}
	if facade.searchCalls != 1 {
		t.Errorf("expected memory.search to be called once, got %d", facade.searchCalls)
	}
}

func TestRunSurfacesNonZeroRunnerExit(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeFacade{})
	eng.RunnerConfig = func(spec RunSpec) runner.Config {
		return runner.Config{
			Backend: types.BackendCodex,
			Command: []string{"/bin/sh", "-c", "exit 7"},
			Timeout: 5 * time.Second,
		}
	}

	exitCode, err := eng.Run(context.Background(), RunSpec{ProjectID: "proj-1", Query: "q"})
	if exitCode != 7 {
		t.Errorf("expected exit 7, got %d", exitCode)
	}
	if err == nil {
		t.Error("expected a non-zero exit error")
	}
}

func TestReplayReturnsRecordedExitCodeWithNoMemoryWrites(t *testing.T) {
	facade := &fakeFacade{}
	eng, dir := newTestEngine(t, facade)

	exitCode, err := eng.Run(context.Background(), RunSpec{ProjectID: "proj-1", Query: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, globErr := filepath.Glob(filepath.Join(dir, "*.events.jsonl"))
	if globErr != nil || len(entries) == 0 {
		t.Fatalf("expected one event log file in %s, err=%v entries=%v", dir, globErr, entries)
	}

	replayedExit, events, err := eng.Replay(entries[0])
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayedExit != exitCode {
		t.Errorf("replay exit code %d != original %d", replayedExit, exitCode)
	}
	if len(events) == 0 {
		t.Error("expected at least one event from replay")
	}
}

func TestRunBatchSkipsDependentsOfAFailedTask(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeFacade{})
	eng.RunnerConfig = func(spec RunSpec) runner.Config {
		script := "cat"
		if spec.Query == "will-fail" {
			script = "exit 1"
		}
		return runner.Config{Backend: types.BackendCodex, Command: []string{"/bin/sh", "-c", script}, Timeout: 5 * time.Second}
	}

	specs := []types.TaskSpec{
		{ID: "a", Backend: "codex", Content: "will-fail"},
		{ID: "b", Backend: "codex", Content: "depends on a", Dependencies: []string{"a"}},
		{ID: "c", Backend: "codex", Content: "independent"},
	}

	outcomes, err := eng.RunBatch(context.Background(), specs)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	byID := map[string]types.TaskOutcome{}
	for _, oc := range outcomes {
		byID[oc.TaskID] = oc
	}
	if byID["a"].Status != types.TaskFailed {
		t.Errorf("task a: expected failed, got %+v", byID["a"])
	}
	if byID["b"].Status != types.TaskSkipped {
		t.Errorf("task b: expected skipped, got %+v", byID["b"])
	}
	if byID["c"].Status != types.TaskSucceeded {
		t.Errorf("task c: expected succeeded, got %+v", byID["c"])
	}
}

func TestCancelDuringRunSkipsMemoryWritesAndReportsCancelled(t *testing.T) {
	facade := &fakeFacade{
		matches: []types.QARecord{
			{QAID: "qa-1", Query: "q", Answer: "a", Score: 0.9, Trust: 0.9, ValidationLevel: types.LevelL2, Freshness: 0.5},
		},
	}
	eng, _ := newTestEngine(t, facade)
	eng.RunnerConfig = func(spec RunSpec) runner.Config {
		return runner.Config{Backend: types.BackendCodex, Command: []string{"/bin/sh", "-c", "sleep 5"}}
	}

	tap := eng.Bus.NewTap()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := eng.Run(ctx, RunSpec{ProjectID: "proj-1", Query: "q", Backend: types.BackendCodex})
	if err == nil || !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("expected a cancelled error, got %v", err)
	}

	if len(facade.hitRefs) != 0 || len(facade.validations) != 0 || len(facade.candidates) != 0 {
		t.Errorf("expected no memory writes on cancel, got hitRefs=%v validations=%v candidates=%v",
			facade.hitRefs, facade.validations, facade.candidates)
	}

	var sawCancelledFailed bool
drain:
	for {
		select {
		case tr := <-tap:
			if tr.To == session.Failed && tr.Note == "cancelled" {
				sawCancelledFailed = true
			}
		default:
			break drain
		}
	}
	if !sawCancelledFailed {
		t.Errorf("expected a transition to Failed with note %q", "cancelled")
	}
}

func TestRunBackendIntersectsUsedQAIDsWithShown(t *testing.T) {
	eng, dir := newTestEngine(t, &fakeFacade{})
	eng.RunnerConfig = func(spec RunSpec) runner.Config {
		return runner.Config{
			Backend: types.BackendCodex,
			Command: []string{"/bin/sh", "-c", "echo '[QA:qa-shown] and [QA:qa-not-shown]'"},
			Timeout: 5 * time.Second,
		}
	}

	reg := eventlog.NewRegistry(dir)
	run := types.Run{RunID: "r-intersect"}
	log := reg.Open(run)

	injectList := []types.InjectItem{{QAID: "qa-shown", ReferenceText: "[QA:qa-shown] prior answer"}}
	outcome, err := eng.runBackend(context.Background(), log, "r-intersect", RunSpec{Backend: types.BackendCodex}, injectList)
	if err != nil {
		t.Fatalf("runBackend: %v", err)
	}
	if len(outcome.UsedQAIDs) != 1 || outcome.UsedQAIDs[0] != "qa-shown" {
		t.Errorf("UsedQAIDs = %v, want only [qa-shown]", outcome.UsedQAIDs)
	}
}

func TestMergedPromptEmbedsInjectMarkers(t *testing.T) {
	items := []types.InjectItem{{QAID: "qa-9", ReferenceText: "[QA:qa-9] prior answer text"}}
	merged := mergedPrompt("current query", items)
	if !strings.Contains(merged, "current query") || !strings.Contains(merged, "[QA:qa-9]") {
		t.Errorf("merged prompt missing expected content: %q", merged)
	}
}
