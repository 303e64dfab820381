package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/haricheung/memexcli/internal/candidate"
	"github.com/haricheung/memexcli/internal/config"
	"github.com/haricheung/memexcli/internal/engine"
	"github.com/haricheung/memexcli/internal/eventlog"
	"github.com/haricheung/memexcli/internal/httpserver"
	"github.com/haricheung/memexcli/internal/llm"
	"github.com/haricheung/memexcli/internal/memory"
	"github.com/haricheung/memexcli/internal/policytool"
	"github.com/haricheung/memexcli/internal/runner"
	"github.com/haricheung/memexcli/internal/session"
	"github.com/haricheung/memexcli/internal/taskspec"
	"github.com/haricheung/memexcli/internal/types"
	"github.com/haricheung/memexcli/internal/ui"
)

func main() {
	_ = godotenv.Load(".env")

	var configPath string
	args := extractGlobalFlag(os.Args[1:], "--config", &configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	setupLogging(cfg)

	facade, closeFacade, err := buildFacade(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeFacade()

	registry := eventlog.NewRegistry(cfg.EventsOut.Dir)
	bus := session.New()
	eng := &engine.Engine{
		Memory:       facade,
		Events:       registry,
		Bus:          bus,
		Inject:       cfg.InjectConfig(),
		Gatekeeper:   cfg.GatekeeperConfig(),
		Policy:       cfg.PolicyConfig(),
		RunnerConfig: runnerConfigBuilder(cfg),
	}

	if h, ok := facade.(*memory.Hybrid); ok {
		ctx, cancel := context.WithCancel(context.Background())
		go h.Run(ctx)
		defer cancel()
	}

	if len(args) == 0 {
		runREPL(eng, cfg, facade)
		return
	}

	cmd, rest := args[0], args[1:]
	var code int
	switch cmd {
	case "run":
		code = cmdRun(eng, cfg, rest)
	case "resume":
		code = cmdResume(eng, rest)
	case "replay":
		code = cmdReplay(eng, rest)
	case "batch":
		code = cmdBatch(eng, rest)
	case "search":
		code = cmdSearch(facade, cfg, rest)
	case "record-hit":
		code = cmdRecordHit(facade, cfg, rest)
	case "record-candidate":
		code = cmdRecordCandidate(facade, rest)
	case "record-session":
		code = cmdRecordSession(facade, rest)
	case "db":
		code = cmdDB(cfg, rest)
	case "sync":
		code = cmdSync(cfg, facade, rest)
	case "init":
		code = cmdInit(cfg)
	case "http-server":
		code = cmdHTTPServer(facade, rest)
	case "help", "-h", "--help":
		usage()
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: memexcli [--config path] <command> [args]

commands:
  run <query>                   run query against the configured backend
  resume <parent-run-id> <query> continue a prior run with its tail as context
  replay <events.jsonl>          print the recorded exit code of a closed run
  batch <taskspec-file>          run a ---TASK--- batch through run_batch
  search <query>                 query the memory facade directly
  record-hit --qa-id=ID [--used] record that a qa record was shown/used
  record-candidate --query= --answer=  store a candidate answer directly
  record-session --query= --transcript=FILE   extract+store a candidate from a transcript
  db init|info|export|import     manage the local memory store
  sync status|now|conflicts      inspect/drive hybrid memory sync
  init                           scaffold ~/.memex and its config.toml
  http-server [--addr=] [--token=]  serve the memory facade over HTTP`)
}

// extractGlobalFlag removes a "--name value" or "--name=value" pair anywhere
// in args, setting *dst, and returns the remaining arguments in order.
func extractGlobalFlag(args []string, name string, dst *string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == name && i+1 < len(args) {
			*dst = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(a, name+"=") {
			*dst = strings.TrimPrefix(a, name+"=")
			continue
		}
		out = append(out, a)
	}
	return out
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildFacade constructs the configured memory.Facade variant (local,
// service, or hybrid) per the `[memory]` config section, then wraps it with
// memory.WithLLMGrader when `[llm_grade]` is enabled.
func buildFacade(cfg config.Config) (memory.Facade, func(), error) {
	noop := func() {}
	var facade memory.Facade
	var cleanup func()

	switch cfg.Memory.Provider {
	case "service":
		facade = memory.NewRemote(cfg.Memory.ServiceURL, cfg.Memory.ServiceAPIKey)
		cleanup = noop
	case "hybrid":
		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: opening local store: %v", types.ErrConfig, err)
		}
		remote := memory.NewRemote(cfg.Memory.ServiceURL, cfg.Memory.ServiceAPIKey)
		facade = memory.NewHybrid(local, remote)
		cleanup = func() { _ = local.Close() }
	default:
		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: opening local store: %v", types.ErrConfig, err)
		}
		facade = local
		cleanup = func() { _ = local.Close() }
	}

	if cfg.LLMGrade.Enabled {
		facade = memory.WithLLMGrader(facade, llm.New())
	}
	return facade, cleanup, nil
}

// runnerConfigBuilder closes over a single policy tracker (shared across
// every Run spawned by this process, so consecutive-violation counters
// accumulate per spec §4.3.2) and turns an engine.RunSpec into the
// runner.Config that actually spawns a backend.
func runnerConfigBuilder(cfg config.Config) func(spec engine.RunSpec) runner.Config {
	tracker := policytool.NewTracker(cfg.PolicyConfig())
	return func(spec engine.RunSpec) runner.Config {
		rc := runner.Config{
			Backend: spec.Backend,
			Workdir: spec.Workdir,
			Timeout: spec.Timeout,
			Policy:  tracker,
		}
		switch spec.Backend {
		case types.BackendCodex:
			rc.Command = []string{"codex", "exec", "--json"}
		case types.BackendClaude:
			rc.Command = []string{"claude", "--print", "--output-format", "stream-json"}
		case types.BackendGemini:
			rc.Command = []string{"gemini", "--json"}
		case types.BackendLocal:
			rc.EventFormat = "marker"
		default:
			rc.HTTPEndpoint = string(spec.Backend)
		}
		return rc
	}
}

func resolveExitCode(exitCode int, err error) int {
	if err == nil {
		return 0
	}
	switch {
	case isCancelled(err):
		return 130
	case isTimeout(err):
		return 124
	case isNonZero(err):
		if exitCode != 0 {
			return exitCode
		}
		return 1
	default:
		return 1
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, types.ErrCancelled) || errors.Is(err, context.Canceled)
}
func isTimeout(err error) bool {
	return errors.Is(err, types.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
func isNonZero(err error) bool { return errors.Is(err, types.ErrNonZero) }

func backendFromFlag(cfg config.Config, v string) types.BackendKind {
	if v != "" {
		return types.BackendKind(v)
	}
	return types.BackendKind(cfg.Control.DefaultBackend)
}

func contextWithInterrupt() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func cmdRun(eng *engine.Engine, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	backend := fs.String("backend", "", "codex|claude|gemini|local|<http endpoint> (default: config default_backend)")
	projectID := fs.String("project-id", cfg.Control.ProjectID, "project identifier")
	workdir := fs.String("workdir", "", "working directory for the backend")
	timeout := fs.Duration("timeout", 0, "run timeout, e.g. 30s (0 = no timeout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.Join(fs.Args(), " ")
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: memexcli run [flags] <query>")
		return 2
	}

	runID := uuid.New().String()
	ctx, cancel := contextWithInterrupt()
	defer cancel()
	exitCode, err := eng.Run(ctx, engine.RunSpec{
		RunID:     runID,
		ProjectID: *projectID,
		Query:     query,
		Backend:   backendFromFlag(cfg, *backend),
		Workdir:   *workdir,
		Timeout:   *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	fmt.Fprintf(os.Stderr, "run_id=%s\n", runID)
	return resolveExitCode(exitCode, err)
}

func cmdResume(eng *engine.Engine, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: memexcli resume <parent-run-id> <query>")
		return 2
	}
	parentRunID := args[0]
	query := strings.Join(args[1:], " ")

	ctx, cancel := contextWithInterrupt()
	defer cancel()
	exitCode, err := eng.Resume(ctx, parentRunID, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return resolveExitCode(exitCode, err)
}

func cmdReplay(eng *engine.Engine, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: memexcli replay <path-to-events.jsonl>")
		return 2
	}
	exitCode, events, err := eng.Replay(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	for _, evt := range events {
		fmt.Printf("%s  %-28s\n", evt.TS.Format(time.RFC3339Nano), evt.Type)
	}
	fmt.Printf("exit_code=%d\n", exitCode)
	return exitCode
}

func cmdBatch(eng *engine.Engine, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: memexcli batch <taskspec-file>")
		return 2
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	specs, err := taskspec.Parse(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	ctx, cancel := contextWithInterrupt()
	defer cancel()
	outcomes, err := eng.RunBatch(ctx, specs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	failed := false
	for _, oc := range outcomes {
		fmt.Printf("%-20s %-10s exit=%d %s\n", oc.TaskID, oc.Status, oc.ExitCode, oc.Reason)
		if oc.Status != types.TaskSucceeded {
			failed = true
		}
	}
	if failed {
		return 1
	}
	return 0
}

func cmdSearch(facade memory.Facade, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	projectID := fs.String("project-id", cfg.Control.ProjectID, "project identifier")
	limit := fs.Int("limit", 10, "max results")
	minScore := fs.Float64("min-score", 0, "minimum score")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.Join(fs.Args(), " ")
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: memexcli search [flags] <query>")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := facade.Search(ctx, memory.SearchPayload{
		ProjectID: *projectID, Query: query, Limit: *limit, MinScore: *minScore,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	for _, r := range results {
		fmt.Printf("%s  score=%.3f trust=%.3f level=L%d  %s\n", r.QAID, r.Score, r.Trust, r.ValidationLevel, firstN(r.Answer, 100))
	}
	return 0
}

func cmdRecordHit(facade memory.Facade, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("record-hit", flag.ContinueOnError)
	projectID := fs.String("project-id", cfg.Control.ProjectID, "project identifier")
	qaID := fs.String("qa-id", "", "qa record id")
	used := fs.Bool("used", false, "mark the record as used, not just shown")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *qaID == "" {
		fmt.Fprintln(os.Stderr, "usage: memexcli record-hit --qa-id=ID [--used]")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := facade.RecordHit(ctx, *projectID, []types.HitRef{{QAID: *qaID, Shown: true, Used: *used}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func cmdRecordCandidate(facade memory.Facade, args []string) int {
	fs := flag.NewFlagSet("record-candidate", flag.ContinueOnError)
	query := fs.String("query", "", "the question")
	answer := fs.String("answer", "", "the answer")
	answerContext := fs.String("context", "", "supporting context")
	confidence := fs.Float64("confidence", 0.5, "confidence [0,1]")
	tags := fs.String("tags", "", "comma-separated tags")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *query == "" || *answer == "" {
		fmt.Fprintln(os.Stderr, "usage: memexcli record-candidate --query= --answer= [--context=] [--confidence=] [--tags=a,b]")
		return 2
	}
	var tagList []string
	if *tags != "" {
		tagList = strings.Split(*tags, ",")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := facade.RecordCandidate(ctx, types.CandidateDraft{
		Query: *query, Answer: *answer, Context: *answerContext, Tags: tagList, Confidence: *confidence,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// cmdRecordSession derives a candidate from a saved transcript rather than
// a live RunOutcome, for post-hoc harvesting of sessions that ran outside
// this engine (e.g. the REPL before record-session was wired in).
func cmdRecordSession(facade memory.Facade, args []string) int {
	fs := flag.NewFlagSet("record-session", flag.ContinueOnError)
	query := fs.String("query", "", "the question the session answered")
	transcript := fs.String("transcript", "", "path to the session's stdout transcript")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *query == "" || *transcript == "" {
		fmt.Fprintln(os.Stderr, "usage: memexcli record-session --query= --transcript=FILE")
		return 2
	}
	data, err := os.ReadFile(*transcript)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	outcome := types.RunOutcome{ExitCode: 0, StdoutTail: string(data)}
	draft := candidate.Extract(*query, outcome)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := facade.RecordCandidate(ctx, draft); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func cmdDB(cfg config.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: memexcli db init|info|export|import")
		return 2
	}
	local, err := memory.NewLocal(cfg.Memory.LocalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer local.Close()

	switch args[0] {
	case "init":
		fmt.Printf("initialized local memory store at %s\n", cfg.Memory.LocalPath)
		return 0
	case "info":
		count, err := local.Info()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("path: %s\nrecords: %d\n", cfg.Memory.LocalPath, count)
		return 0
	case "export":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: memexcli db export <path>")
			return 2
		}
		f, err := os.Create(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		n, err := local.Export(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("exported %d records to %s\n", n, args[1])
		return 0
	case "import":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: memexcli db import <path>")
			return 2
		}
		f, err := os.Open(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		n, err := local.Import(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("imported %d records from %s\n", n, args[1])
		return 0
	default:
		fmt.Fprintln(os.Stderr, "usage: memexcli db init|info|export|import")
		return 2
	}
}

func cmdSync(cfg config.Config, facade memory.Facade, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: memexcli sync status|now|conflicts")
		return 2
	}
	h, ok := facade.(*memory.Hybrid)
	if !ok {
		fmt.Fprintf(os.Stderr, "sync is only meaningful with memory.provider = \"hybrid\" (currently %q)\n", cfg.Memory.Provider)
		return 2
	}

	switch args[0] {
	case "status":
		fmt.Printf("pending sync jobs: %d\n", h.PendingSyncJobs())
		return 0
	case "now":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flushed, err := h.FlushNow(ctx)
		fmt.Printf("flushed %d sync jobs\n", flushed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: last flush error: %v\n", err)
			return 1
		}
		return 0
	case "conflicts":
		// Open design decision (see DESIGN.md): hybrid mirroring is
		// fire-and-forget last-writer-wins, so there is no local conflict
		// ledger to report — the remote service is the merge authority.
		fmt.Println("no local conflict tracking: hybrid sync is last-writer-wins, resolved on the remote service")
		return 0
	default:
		fmt.Fprintln(os.Stderr, "usage: memexcli sync status|now|conflicts")
		return 2
	}
}

func cmdInit(cfg config.Config) int {
	dataDir := cfg.Control.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(cfg.EventsOut.Dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	configPath := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("%s already exists, leaving it in place\n", configPath)
		return 0
	}
	f, err := os.Create(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer f.Close()
	fmt.Fprintf(f, "[control]\nproject_id = \"\"\ndefault_backend = %q\ndata_dir = %q\n\n", cfg.Control.DefaultBackend, dataDir)
	fmt.Fprintf(f, "[memory]\nprovider = \"local\"\nlocal_path = %q\n", cfg.Memory.LocalPath)
	fmt.Printf("wrote %s\n", configPath)
	return 0
}

func cmdHTTPServer(facade memory.Facade, args []string) int {
	fs := flag.NewFlagSet("http-server", flag.ContinueOnError)
	addr := fs.String("addr", ":8085", "listen address")
	token := fs.String("token", os.Getenv("MEM_CODECLI_MEMORY_API_KEY"), "bearer token required of callers")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	srv := &httpserver.Server{Facade: facade, AuthToken: *token}
	fmt.Printf("memexcli http-server listening on %s\n", *addr)
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runREPL is the interactive loop: readline-driven input, one engine.Run per
// line, Ctrl+C aborts the in-flight run without killing the process.
func runREPL(eng *engine.Engine, cfg config.Config, facade memory.Facade) {
	fmt.Println("\033[1m\033[36m⚡ memexcli\033[0m — memory-augmented coding shell  \033[2m(exit/Ctrl-D to quit | Ctrl+C aborts run)\033[0m")

	historyPath := filepath.Join(cfg.Control.DataDir, "history")
	_ = os.MkdirAll(cfg.Control.DataDir, 0o755)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[36m>\033[0m ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline init error: %v\n", err)
		return
	}
	defer rl.Close()

	displayCtx, stopDisplay := context.WithCancel(context.Background())
	defer stopDisplay()
	go ui.New(eng.Bus.NewTap()).Run(displayCtx)

	var runMu sync.Mutex
	var runCancel context.CancelFunc
	var lastRunID string

	intrCh := make(chan os.Signal, 1)
	signal.Notify(intrCh, os.Interrupt)
	defer signal.Stop(intrCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-intrCh:
				runMu.Lock()
				c := runCancel
				runMu.Unlock()
				if c != nil {
					c()
					fmt.Print("\r\033[K\n\033[33m⚠ run aborted\033[0m  (type 'exit' or Ctrl+D to quit)\n")
				}
			case <-done:
				return
			}
		}
	}()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("\n\033[2m(Ctrl+C again or type 'exit' to quit)\033[0m")
			line2, err2 := rl.Readline()
			if err2 == readline.ErrInterrupt || strings.TrimSpace(line2) == "exit" {
				return
			}
			line, err = line2, err2
		}
		if err != nil {
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}
		if input == "/last" {
			fmt.Println(lastRunID)
			continue
		}
		if strings.HasPrefix(input, "/resume ") {
			input = strings.TrimPrefix(input, "/resume ")
			if lastRunID == "" {
				fmt.Println("no prior run this session to resume")
				continue
			}
			runResume(eng, &runMu, &runCancel, lastRunID, input)
			continue
		}
		if strings.HasPrefix(input, "/search ") {
			cmdSearch(facade, cfg, []string{strings.TrimPrefix(input, "/search ")})
			continue
		}

		runID := uuid.New().String()
		err = runOnceInteractive(eng, cfg, &runMu, &runCancel, input, runID)
		if err != nil && isCancelled(err) {
			continue
		}
		lastRunID = runID
	}
}

func runOnceInteractive(eng *engine.Engine, cfg config.Config, runMu *sync.Mutex, runCancel *context.CancelFunc, query, runID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	runMu.Lock()
	*runCancel = cancel
	runMu.Unlock()
	defer func() {
		runMu.Lock()
		*runCancel = nil
		runMu.Unlock()
		cancel()
	}()

	spec := engine.RunSpec{
		RunID:     runID,
		ProjectID: cfg.Control.ProjectID,
		Query:     query,
		Backend:   types.BackendKind(cfg.Control.DefaultBackend),
	}
	exitCode, err := eng.Run(ctx, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed (exit %d): %v\n", exitCode, err)
		return err
	}
	fmt.Printf("\033[32mdone\033[0m (exit %d, run %s)\n", exitCode, runID)
	return nil
}

func runResume(eng *engine.Engine, runMu *sync.Mutex, runCancel *context.CancelFunc, parentRunID, query string) {
	ctx, cancel := context.WithCancel(context.Background())
	runMu.Lock()
	*runCancel = cancel
	runMu.Unlock()
	defer func() {
		runMu.Lock()
		*runCancel = nil
		runMu.Unlock()
		cancel()
	}()

	exitCode, err := eng.Resume(ctx, parentRunID, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resume failed (exit %d): %v\n", exitCode, err)
		return
	}
	fmt.Printf("\033[32mdone\033[0m (exit %d)\n", exitCode)
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
