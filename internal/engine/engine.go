// Package engine implements the orchestrator (spec §4.8): the three-phase
// pre/run/post pipeline behind run/resume/replay/run_batch, generalizing
// this codebase's sequence-barrier subtask dispatcher (cmd/agsh/main.go's
// runSubtaskDispatcher) from a sequence-number barrier to a precomputed
// topological-rank barrier over a taskspec.Graph.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/memexcli/internal/candidate"
	"github.com/haricheung/memexcli/internal/eventlog"
	"github.com/haricheung/memexcli/internal/gatekeeper"
	"github.com/haricheung/memexcli/internal/inject"
	"github.com/haricheung/memexcli/internal/memory"
	"github.com/haricheung/memexcli/internal/policytool"
	"github.com/haricheung/memexcli/internal/runner"
	"github.com/haricheung/memexcli/internal/session"
	"github.com/haricheung/memexcli/internal/taskspec"
	"github.com/haricheung/memexcli/internal/types"
)

// RunSpec is the input to one Run: the project/query/backend tuple plus the
// workdir the runner spawns into.
type RunSpec struct {
	ProjectID string
	Query     string
	Backend   types.BackendKind
	Workdir   string
	Timeout   time.Duration

	// RunID lets a caller learn a run's id before Run returns (e.g. to offer
	// "resume" against it later). Left empty, Run generates one itself.
	RunID string
}

// Engine wires together the memory facade, event log, session bus, and
// runner driver behind the four public operations of spec §4.8.
type Engine struct {
	Memory memory.Facade
	Events *eventlog.Registry
	Bus    *session.Bus

	Inject     inject.Config
	Gatekeeper gatekeeper.Config
	Policy     policytool.Config

	// RunnerConfig builds the runner.Config for one RunSpec. Factored out so
	// callers choose the subprocess argv (or HTTP endpoint) per backend.
	RunnerConfig func(spec RunSpec) runner.Config

	SearchTimeout       time.Duration
	WriteTimeout        time.Duration
	MaxBatchConcurrency int
}

func (e *Engine) searchTimeout() time.Duration {
	if e.SearchTimeout > 0 {
		return e.SearchTimeout
	}
	return 10 * time.Second
}

func (e *Engine) writeTimeout() time.Duration {
	if e.WriteTimeout > 0 {
		return e.WriteTimeout
	}
	return 5 * time.Second
}

func (e *Engine) maxBatchConcurrency() int {
	if e.MaxBatchConcurrency > 0 {
		return e.MaxBatchConcurrency
	}
	return 4
}

// Run executes the three-phase pipeline for one fresh query and returns the
// backend's exit code.
func (e *Engine) Run(ctx context.Context, spec RunSpec) (int, error) {
	return e.runPipeline(ctx, spec, "")
}

// Resume re-runs the pipeline with parent_run_id set, augmenting the
// retrieval step with the parent's final query and assistant-output tail
// (spec §4.8: "contextual continuity drawn from the parent's final
// events").
func (e *Engine) Resume(ctx context.Context, parentRunID, query string) (int, error) {
	parentQuery, parentTail, err := e.parentContinuity(parentRunID)
	if err != nil {
		logWarn("engine: could not load parent continuity", "parent_run_id", parentRunID, "error", err)
	}

	spec := RunSpec{Query: query}
	if parentQuery != "" || parentTail != "" {
		var b strings.Builder
		b.WriteString(query)
		if parentQuery != "" {
			fmt.Fprintf(&b, "\n\nPrior query: %s", parentQuery)
		}
		if parentTail != "" {
			fmt.Fprintf(&b, "\nPrior output tail:\n%s", parentTail)
		}
		spec.Query = b.String()
	}
	return e.runPipeline(ctx, spec, parentRunID)
}

// parentContinuity loads the parent run's starting query and its RunOutcome
// stdout tail from its closed event log, if present.
func (e *Engine) parentContinuity(parentRunID string) (query, tail string, err error) {
	if e.Events == nil {
		return "", "", nil
	}
	path := e.Events.Path(parentRunID)
	events, err := eventlog.ReadEvents(path)
	if err != nil {
		return "", "", err
	}
	for _, evt := range events {
		switch evt.Type {
		case types.EventRunStart:
			if run, ok := decodeData[types.Run](evt.Data); ok {
				query = run.Query
			}
		case types.EventRunEnd:
			if outcome, ok := decodeData[types.RunOutcome](evt.Data); ok {
				tail = outcome.StdoutTail
			}
		}
	}
	return query, tail, nil
}

func decodeData[T any](data any) (T, bool) {
	var out T
	raw, err := json.Marshal(data)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// Replay reads a closed run's event log and returns the exit_code recorded
// in its run.end event, performing no memory writes (spec §8 property 1).
func (e *Engine) Replay(path string) (int, []types.Event, error) {
	events, err := eventlog.ReadEvents(path)
	if err != nil {
		return 1, nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != types.EventRunEnd {
			continue
		}
		if outcome, ok := decodeData[types.RunOutcome](events[i].Data); ok {
			return outcome.ExitCode, events, nil
		}
	}
	return 1, events, fmt.Errorf("%w: no run.end event in %s", types.ErrIO, path)
}

// runPipeline is steps 1-4 of spec §4.8, shared by Run and Resume.
func (e *Engine) runPipeline(ctx context.Context, spec RunSpec, parentRunID string) (int, error) {
	runID := spec.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	run := types.Run{
		RunID:       runID,
		ProjectID:   spec.ProjectID,
		Query:       spec.Query,
		ParentRunID: parentRunID,
		BackendKind: spec.Backend,
		StartedAt:   time.Now().UTC(),
	}
	log := e.Events.Open(run)
	e.transition(runID, session.Initializing, session.MemorySearch, "")

	matches, injectList := e.pre(ctx, log, runID, spec)

	e.transition(runID, session.MemorySearch, session.RunnerStarting, "")
	e.transition(runID, session.RunnerStarting, session.RunnerRunning, "")
	outcome, runErr := e.runBackend(ctx, log, runID, spec, injectList)

	cancelled := errors.Is(runErr, types.ErrCancelled)

	e.transition(runID, session.RunnerRunning, session.GatekeeperEvaluating, "")
	draft := candidate.Extract(spec.Query, outcome)
	decision := gatekeeper.Decide(matches, outcome, &draft, e.Gatekeeper)

	e.transition(runID, session.GatekeeperEvaluating, session.MemoryPersisting, "")
	if !cancelled {
		e.post(ctx, log, runID, spec.ProjectID, decision, draft)
	}

	final := session.Completed
	reason := ""
	switch {
	case cancelled:
		final = session.Failed
		reason = "cancelled"
	case runErr != nil && !errors.Is(runErr, types.ErrNonZero):
		final = session.Failed
		reason = runErr.Error()
	}
	e.transition(runID, session.MemoryPersisting, final, reason)
	outcome.Reason = reason
	e.Events.Close(runID, outcome.ExitCode, outcome)

	return outcome.ExitCode, runErr
}

// pre is step 2: memory.search, §4.5 injection selection, and the
// memory.inject.decision log line.
func (e *Engine) pre(ctx context.Context, log *eventlog.Log, runID string, spec RunSpec) ([]types.QARecord, []types.InjectItem) {
	log.Append(types.Event{Type: types.EventMemorySearchRequest, RunID: runID, Data: map[string]string{"query": spec.Query}})

	searchCtx, cancel := context.WithTimeout(ctx, e.searchTimeout())
	defer cancel()

	var matches []types.QARecord
	if e.Memory != nil {
		var err error
		matches, err = e.Memory.Search(searchCtx, memory.SearchPayload{ProjectID: spec.ProjectID, Query: spec.Query, Limit: 20})
		if err != nil {
			logWarn("engine: memory.search failed", "run_id", runID, "error", err)
		}
	}
	log.Append(types.Event{Type: types.EventMemorySearchResult, RunID: runID, Data: matches})

	injectList := inject.Select(matches, e.Inject)
	log.Append(types.Event{Type: types.EventMemoryInjectDecision, RunID: runID, Data: injectList})
	return matches, injectList
}

// runBackend is step 3: spawn a Session, forward the merged prompt, pump to
// completion.
func (e *Engine) runBackend(ctx context.Context, log *eventlog.Log, runID string, spec RunSpec, injectList []types.InjectItem) (types.RunOutcome, error) {
	merged := mergedPrompt(spec.Query, injectList)

	rcfg := e.RunnerConfig(spec)
	if rcfg.Timeout == 0 {
		rcfg.Timeout = spec.Timeout
	}
	if rcfg.Policy == nil {
		rcfg.Policy = policytool.NewTracker(e.Policy)
	}

	log.Append(types.Event{Type: types.EventBackendSpawn, RunID: runID, Data: map[string]string{"backend": string(spec.Backend), "workdir": spec.Workdir}})

	sess, err := runner.Spawn(ctx, rcfg)
	if err != nil {
		outcome := types.RunOutcome{ExitCode: 1, ShownQAIDs: qaIDs(injectList)}
		return outcome, err
	}
	if werr := sess.WriteStdin(ctx, []byte(merged)); werr != nil {
		logWarn("engine: write_stdin failed", "run_id", runID, "error", werr)
	}

	outcome, waitErr := sess.Wait()
	outcome.ShownQAIDs = qaIDs(injectList)
	outcome.UsedQAIDs = intersectIDs(outcome.UsedQAIDs, outcome.ShownQAIDs)

	for _, te := range outcome.ToolEvents {
		evtType := types.EventToolCall
		if te.Kind == types.ToolEventResult {
			evtType = types.EventToolResult
		}
		log.Append(types.Event{Type: evtType, RunID: runID, TS: te.TS, Data: te})
	}
	return outcome, waitErr
}

// post is step 4: Decision writes through the memory facade, each failure
// logged but never fatal to the Run.
func (e *Engine) post(ctx context.Context, log *eventlog.Log, runID, projectID string, decision types.Decision, draft types.CandidateDraft) {
	writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout())
	defer cancel()

	if e.Memory == nil {
		return
	}

	if len(decision.HitRefs) > 0 {
		if err := e.Memory.RecordHit(writeCtx, projectID, decision.HitRefs); err != nil {
			logWarn("engine: record_hit failed", "run_id", runID, "error", err)
		} else {
			log.Append(types.Event{Type: types.EventMemoryHitWrite, RunID: runID, Data: decision.HitRefs})
		}
	}

	for _, plan := range decision.ValidatePlans {
		err := e.Memory.RecordValidation(writeCtx, projectID, plan.QAID, memory.ValidationOutcome(plan.Result), plan.Notes)
		if err != nil {
			logWarn("engine: record_validation failed", "run_id", runID, "qa_id", plan.QAID, "error", err)
			continue
		}
		log.Append(types.Event{Type: types.EventMemoryValidationWrite, RunID: runID, Data: plan})
	}

	if decision.ShouldWriteCandidate {
		if err := e.Memory.RecordCandidate(writeCtx, draft); err != nil {
			logWarn("engine: record_candidate failed", "run_id", runID, "error", err)
		} else {
			log.Append(types.Event{Type: types.EventMemoryCandidateWrite, RunID: runID, Data: draft})
		}
	}
}

func (e *Engine) transition(runID string, from, to session.State, note string) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(session.Transition{RunID: runID, From: from, To: to, TS: time.Now().UTC(), Note: note})
}

func mergedPrompt(query string, items []types.InjectItem) string {
	if len(items) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\nRelevant prior answers:\n")
	for _, it := range items {
		b.WriteString(it.ReferenceText)
		b.WriteString("\n")
	}
	return b.String()
}

func qaIDs(items []types.InjectItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.QAID
	}
	return ids
}

// intersectIDs keeps only the entries of ids that also appear in allowed, so
// a backend referencing a [QA:x] marker for an id that was never injected
// can't produce a hit ref or validation plan for it.
func intersectIDs(ids, allowed []string) []string {
	allowSet := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allowSet[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if allowSet[id] {
			out = append(out, id)
		}
	}
	return out
}

// RunBatch executes a parsed batch's dependency graph rank by rank,
// concurrently within a rank up to MaxBatchConcurrency, retrying a task on
// NonZero or Timeout with exponential backoff while its retry budget lasts,
// and skipping dependents of a failed task (spec §4.8).
func (e *Engine) RunBatch(ctx context.Context, specs []types.TaskSpec) ([]types.TaskOutcome, error) {
	graph, err := taskspec.BuildGraph(specs)
	if err != nil {
		return nil, err
	}
	ranks, err := graph.Ranks()
	if err != nil {
		return nil, err
	}

	outcomes := make(map[string]types.TaskOutcome, len(specs))
	var mu sync.Mutex
	sem := make(chan struct{}, e.maxBatchConcurrency())

	for _, rank := range ranks {
		var wg sync.WaitGroup
		for _, id := range rank {
			spec := graph.Spec(id)

			mu.Lock()
			skip, reason := skippedByDependency(spec, outcomes)
			mu.Unlock()
			if skip {
				mu.Lock()
				outcomes[id] = types.TaskOutcome{TaskID: id, Status: types.TaskSkipped, Reason: reason}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(spec types.TaskSpec) {
				defer wg.Done()
				defer func() { <-sem }()
				oc := e.runTaskWithRetry(ctx, spec)
				mu.Lock()
				outcomes[spec.ID] = oc
				mu.Unlock()
			}(spec)
		}
		wg.Wait()
	}

	result := make([]types.TaskOutcome, 0, len(specs))
	for _, s := range specs {
		result = append(result, outcomes[s.ID])
	}
	return result, nil
}

func skippedByDependency(spec types.TaskSpec, outcomes map[string]types.TaskOutcome) (bool, string) {
	for _, dep := range spec.Dependencies {
		if oc, ok := outcomes[dep]; ok && oc.Status != types.TaskSucceeded {
			return true, fmt.Sprintf("dependency %q did not succeed (status=%s)", dep, oc.Status)
		}
	}
	return false, ""
}

func (e *Engine) runTaskWithRetry(ctx context.Context, spec types.TaskSpec) types.TaskOutcome {
	rspec := RunSpec{Query: spec.Content, Backend: types.BackendKind(spec.Backend), Workdir: spec.Workdir, Timeout: spec.Timeout}

	backoff := 500 * time.Millisecond
	var lastErr error
	var exitCode int
	for attempt := 0; attempt <= spec.Retry; attempt++ {
		exitCode, lastErr = e.Run(ctx, rspec)
		if lastErr == nil {
			return types.TaskOutcome{TaskID: spec.ID, Status: types.TaskSucceeded, ExitCode: exitCode}
		}
		retryable := errors.Is(lastErr, types.ErrNonZero) || errors.Is(lastErr, types.ErrTimeout)
		if !retryable || attempt == spec.Retry {
			break
		}
		select {
		case <-ctx.Done():
			return types.TaskOutcome{TaskID: spec.ID, Status: types.TaskFailed, ExitCode: exitCode, Reason: ctx.Err().Error()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return types.TaskOutcome{TaskID: spec.ID, Status: types.TaskFailed, ExitCode: exitCode, Reason: lastErr.Error()}
}

func logWarn(msg string, args ...any) {
	slog.Warn(msg, args...)
}
