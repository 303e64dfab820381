package policytool

import (
	"strings"
	"testing"
)

func TestEvaluateDefaultsToAllow(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	v, _ := tr.Evaluate("read_file", "digest1")
	if v != Allow {
		t.Errorf("want Allow, got %s", v)
	}
}

func TestEvaluateToolNameRuleWinsOverClass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = []Rule{
		{Match: "class:exec", Verdict: Deny},
		{Match: "shell", Verdict: Ask},
	}
	tr := NewTracker(cfg)
	v, reason := tr.Evaluate("shell", "d1")
	if v != Deny {
		t.Errorf("want Deny (first matching rule, class comes first in list), got %s: %s", v, reason)
	}
}

func TestEvaluateClassRuleAppliesToUnlistedToolName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = []Rule{{Match: "class:filesystem_write", Verdict: Deny}}
	tr := NewTracker(cfg)
	v, _ := tr.Evaluate("write_file", "d1")
	if v != Deny {
		t.Errorf("want Deny via class rule, got %s", v)
	}
}

func TestEvaluateRecordsViolationOnDeny(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = []Rule{{Match: "shell", Verdict: Deny}}
	tr := NewTracker(cfg)
	tr.Evaluate("shell", "d1")
	if len(tr.Violations()) != 1 {
		t.Errorf("expected one recorded violation, got %d", len(tr.Violations()))
	}
}

func TestEvaluateDoesNotRecordOnAllow(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Evaluate("read_file", "d1")
	if len(tr.Violations()) != 0 {
		t.Errorf("allow should not be recorded as a violation")
	}
}

func TestAskTimeoutDefaultsToDenyAndRecords(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	v := tr.AskTimeout("shell", "d1")
	if v != Deny {
		t.Errorf("want Deny on ask timeout, got %s", v)
	}
	if len(tr.Violations()) != 1 {
		t.Errorf("ask timeout should be recorded as a violation")
	}
}

func TestDenyEnvelopeEscapesQuotes(t *testing.T) {
	env := DenyEnvelope("shell", `reason with "quotes"`)
	if !strings.Contains(env, "policy_deny") || !strings.Contains(env, "shell") {
		t.Errorf("envelope missing expected fields: %s", env)
	}
}
