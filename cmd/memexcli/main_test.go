package main

import (
	"context"
	"errors"
	"testing"

	"github.com/haricheung/memexcli/internal/config"
	"github.com/haricheung/memexcli/internal/types"
)

func TestExtractGlobalFlagSpaceForm(t *testing.T) {
	var got string
	rest := extractGlobalFlag([]string{"run", "--config", "/tmp/x.toml", "hello"}, "--config", &got)
	if got != "/tmp/x.toml" {
		t.Errorf("dst = %q, want /tmp/x.toml", got)
	}
	want := []string{"run", "hello"}
	if len(rest) != len(want) {
		t.Fatalf("rest = %v, want %v", rest, want)
	}
	for i := range want {
		if rest[i] != want[i] {
			t.Errorf("rest[%d] = %q, want %q", i, rest[i], want[i])
		}
	}
}

func TestExtractGlobalFlagEqualsForm(t *testing.T) {
	var got string
	rest := extractGlobalFlag([]string{"--config=/tmp/x.toml", "run"}, "--config", &got)
	if got != "/tmp/x.toml" {
		t.Errorf("dst = %q, want /tmp/x.toml", got)
	}
	if len(rest) != 1 || rest[0] != "run" {
		t.Errorf("rest = %v, want [run]", rest)
	}
}

func TestExtractGlobalFlagAbsent(t *testing.T) {
	var got string
	rest := extractGlobalFlag([]string{"run", "hello"}, "--config", &got)
	if got != "" {
		t.Errorf("dst = %q, want empty", got)
	}
	if len(rest) != 2 {
		t.Errorf("rest = %v, want unchanged", rest)
	}
}

func TestResolveExitCode(t *testing.T) {
	cases := []struct {
		name     string
		exitCode int
		err      error
		want     int
	}{
		{"success", 0, nil, 0},
		{"cancelled sentinel", 0, types.ErrCancelled, 130},
		{"context cancelled", 0, context.Canceled, 130},
		{"timeout sentinel", 0, types.ErrTimeout, 124},
		{"deadline exceeded", 0, context.DeadlineExceeded, 124},
		{"non-zero with backend code", 7, types.ErrNonZero, 7},
		{"non-zero with no backend code", 0, types.ErrNonZero, 1},
		{"unrecognized error", 0, errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveExitCode(tc.exitCode, tc.err); got != tc.want {
				t.Errorf("resolveExitCode(%d, %v) = %d, want %d", tc.exitCode, tc.err, got, tc.want)
			}
		})
	}
}

func TestBackendFromFlag(t *testing.T) {
	cfg := config.Default()
	cfg.Control.DefaultBackend = "codex"

	if got := backendFromFlag(cfg, "claude"); got != types.BackendClaude {
		t.Errorf("explicit flag: got %q, want claude", got)
	}
	if got := backendFromFlag(cfg, ""); got != types.BackendCodex {
		t.Errorf("fallback to config default: got %q, want codex", got)
	}
}

func TestFirstN(t *testing.T) {
	if got := firstN("hello", 10); got != "hello" {
		t.Errorf("short string: got %q, want unchanged", got)
	}
	if got := firstN("hello world", 5); got != "hello..." {
		t.Errorf("truncated: got %q, want \"hello...\"", got)
	}
}
