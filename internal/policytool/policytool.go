// Package policytool evaluates tool_call events against a configured
// allow/deny list (spec §4.3.2): a static route table decides what's legal,
// the same shape this codebase uses elsewhere for enforcing which
// sender→receiver pairs are legitimate.
package policytool

import (
	"fmt"
	"strings"
	"sync"
)

// Verdict is the outcome of evaluating one tool call.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
	Ask   Verdict = "ask"
)

// RiskClass groups tool names that share a risk posture so the allow/deny
// lists can target a whole class (e.g. "filesystem_write") instead of
// enumerating every tool name.
type RiskClass string

// Rule binds a tool name (or risk class, prefixed "class:") to a verdict.
type Rule struct {
	Match   string
	Verdict Verdict
}

// Config is the parsed `[policy]` config section.
type Config struct {
	// Classes maps a tool name to its risk class, e.g. "shell" -> "exec".
	Classes map[string]RiskClass
	// Rules are evaluated in order; the first match wins. A name with no
	// matching rule resolves to Default.
	Rules   []Rule
	Default Verdict
	// AskTimeoutDefault is the verdict applied when an Ask decision's
	// external callback does not respond before the deadline (spec §4.3.2:
	// "whose expiry defaults to deny").
	AskTimeoutDefault Verdict
}

// DefaultConfig denies nothing by default but classifies the teacher's known
// tool names so a project's config can target them by class.
func DefaultConfig() Config {
	return Config{
		Classes: map[string]RiskClass{
			"shell":       "exec",
			"write_file":  "filesystem_write",
			"read_file":   "filesystem_read",
			"glob":        "filesystem_read",
			"mdfind":      "filesystem_read",
			"applescript": "system_automation",
			"shortcuts":   "system_automation",
			"search":      "network",
		},
		Default:           Allow,
		AskTimeoutDefault: Deny,
	}
}

// Violation records one denied or timed-out-ask tool call, for the audit
// trail a Session keeps alongside its event log.
type Violation struct {
	ToolName   string
	ArgsDigest string
	Verdict    Verdict
	Reason     string
}

// Tracker evaluates tool calls against a Config and records violations.
type Tracker struct {
	cfg Config
	mu  sync.Mutex
	log []Violation
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Evaluate resolves allow|deny|ask for a tool call, matching rules in order
// against both the tool name and its risk class.
func (t *Tracker) Evaluate(toolName, argsDigest string) (Verdict, string) {
	class, hasClass := t.cfg.Classes[toolName]

	for _, r := range t.cfg.Rules {
		if r.Match == toolName {
			reason := fmt.Sprintf("matched rule for tool %q", toolName)
			if r.Verdict != Allow {
				t.record(toolName, argsDigest, r.Verdict, reason)
			}
			return r.Verdict, reason
		}
		if hasClass && r.Match == "class:"+string(class) {
			reason := fmt.Sprintf("matched rule for class %q (tool %q)", class, toolName)
			if r.Verdict != Allow {
				t.record(toolName, argsDigest, r.Verdict, reason)
			}
			return r.Verdict, reason
		}
	}

	verdict := t.cfg.Default
	if verdict == "" {
		verdict = Allow
	}
	reason := fmt.Sprintf("no rule matched tool %q, applying default %s", toolName, verdict)

	if verdict != Allow {
		t.record(toolName, argsDigest, verdict, reason)
	}
	return verdict, reason
}

// AskTimeout resolves the verdict for an Ask decision whose external
// callback did not respond before its deadline.
func (t *Tracker) AskTimeout(toolName, argsDigest string) Verdict {
	v := t.cfg.AskTimeoutDefault
	if v == "" {
		v = Deny
	}
	t.record(toolName, argsDigest, v, "ask callback timed out")
	return v
}

func (t *Tracker) record(toolName, argsDigest string, v Verdict, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, Violation{ToolName: toolName, ArgsDigest: argsDigest, Verdict: v, Reason: reason})
}

// Violations returns a snapshot of every deny/ask-timeout recorded so far.
func (t *Tracker) Violations() []Violation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Violation(nil), t.log...)
}

// DenyEnvelope builds the small JSON-ish refusal envelope written back
// through stdin when the driver denies a tool_call (spec §4.3.2).
func DenyEnvelope(toolName, reason string) string {
	reason = strings.ReplaceAll(reason, `"`, `'`)
	return fmt.Sprintf(`{"type":"policy_deny","tool":%q,"reason":%q}`, toolName, reason)
}
