package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/haricheung/memexcli/internal/policytool"
	"github.com/haricheung/memexcli/internal/tools"
	"github.com/haricheung/memexcli/internal/types"
)

// runLocal treats p as one marker-style tool directive ("tool=shell
// command=\"ls\"") and executes it in-process instead of handing it to a
// subprocess or HTTP backend. Policy is evaluated directly here rather than
// through handleRecord, since handleRecord's deny path writes a refusal
// envelope back through WriteStdin — meaningful for a subprocess backend
// reading its own stdin, but a no-op recipient for a local run.
func (s *Session) runLocal(ctx context.Context, p []byte) error {
	s.setState(Running)

	rec, ok := parseMarkerLine(string(p))
	if !ok || rec == nil {
		s.finishFromStream(2, fmt.Errorf("%w: malformed local tool directive", types.ErrParseInput))
		return nil
	}

	seq := int(atomic.AddInt64(&s.seq, 1))
	digest := argsDigest(rec.args)
	verdict, reason := policytool.Allow, "no policy configured"
	if s.cfg.Policy != nil {
		verdict, reason = s.cfg.Policy.Evaluate(rec.name, digest)
		if verdict == policytool.Ask && s.cfg.AskCallback != nil {
			askCtx, cancel := context.WithTimeout(ctx, s.cfg.askTimeout())
			v, answered := s.cfg.AskCallback(askCtx, rec.name, digest)
			cancel()
			if answered {
				verdict, reason = v, "ask callback resolved"
			} else {
				verdict = s.cfg.Policy.AskTimeout(rec.name, digest)
				reason = "ask callback timed out"
			}
		}
	}
	s.recordToolEvent(seq, types.ToolEventCall, rec.name, digest, types.ToolStatusUnknown, rec.args)

	if verdict == policytool.Deny {
		out := policytool.DenyEnvelope(rec.name, reason)
		s.outRing.Write([]byte(out))
		s.recordToolEvent(seq, types.ToolEventResult, rec.name, digest, types.ToolStatusError, rec.args)
		s.finishFromStream(1, fmt.Errorf("%w: %s", types.ErrPolicyDeny, reason))
		return nil
	}

	out, toolErr := s.execLocalTool(rec.name, rec.args)
	status := types.ToolStatusOK
	if toolErr != nil {
		status = types.ToolStatusError
		out = toolErr.Error()
	}

	s.outRing.Write([]byte(out))
	if s.cfg.StdoutSink != nil {
		_, _ = s.cfg.StdoutSink.Write([]byte(out))
	}
	s.matcher.scan(out)
	s.recordToolEvent(seq, types.ToolEventResult, rec.name, digest, status, rec.args)

	exitCode := 0
	if toolErr != nil {
		exitCode = 1
	}
	s.finishFromStream(exitCode, nil)
	return nil
}

func (s *Session) recordToolEvent(seq int, kind types.ToolEventKind, name, digest string, status types.ToolEventStatus, args map[string]any) {
	s.mu.Lock()
	s.toolEvents = append(s.toolEvents, types.ToolEvent{
		Seq: seq, Kind: kind, Name: name, ArgsDigest: digest, Status: status, TS: time.Now(), Args: args,
	})
	s.mu.Unlock()
}

// execLocalTool dispatches an already-policy-approved call to the concrete
// shell/file/glob implementation named by toolName.
func (s *Session) execLocalTool(toolName string, args map[string]any) (string, error) {
	str := func(k string) string {
		v, _ := args[k].(string)
		return v
	}

	switch toolName {
	case "shell":
		stdout, stderr, err := tools.RunShell(context.Background(), str("command"))
		if err != nil {
			return stdout + stderr, err
		}
		return stdout, nil
	case "read_file":
		return tools.ReadFile(str("path"))
	case "write_file":
		if err := tools.WriteFile(str("path"), str("content")); err != nil {
			return "", err
		}
		return "ok", nil
	case "glob":
		matches, err := tools.GlobFiles(str("root"), str("pattern"))
		if err != nil {
			return "", err
		}
		return tools.GlobJoin(matches), nil
	default:
		return "", fmt.Errorf("runner: unknown local tool %q", toolName)
	}
}
