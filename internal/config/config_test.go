package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasSaneThresholds(t *testing.T) {
	cfg := Default()
	if cfg.Gatekeeper.MinConfidence != 0.45 {
		t.Errorf("unexpected default min_confidence: %v", cfg.Gatekeeper.MinConfidence)
	}
	if cfg.Memory.Provider != "local" {
		t.Errorf("unexpected default memory provider: %v", cfg.Memory.Provider)
	}
}

func TestLoadAppliesExplicitFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[control]
project_id = "proj-1"

[gatekeeper]
min_confidence = 0.6
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.ProjectID != "proj-1" {
		t.Errorf("project_id not applied: %+v", cfg.Control)
	}
	if cfg.Gatekeeper.MinConfidence != 0.6 {
		t.Errorf("min_confidence not applied: %v", cfg.Gatekeeper.MinConfidence)
	}
	// Untouched sections keep their defaults.
	if cfg.Memory.Provider != "local" {
		t.Errorf("untouched section should keep default: %+v", cfg.Memory)
	}
}

func TestLoadMissingExplicitFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gatekeeper.MinConfidence != 0.45 {
		t.Errorf("expected default config, got %+v", cfg.Gatekeeper)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("MEM_CODECLI_PROJECT_ID", "from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`[control]
project_id = "from-file"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.ProjectID != "from-env" {
		t.Errorf("env override should win, got %q", cfg.Control.ProjectID)
	}
}

func TestEnvOverrideEnablesStateManagement(t *testing.T) {
	t.Setenv("MEMEX_ENABLE_STATE_MGMT", "true")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.StateManagement.Enabled {
		t.Errorf("expected state management enabled via env override")
	}
}

func TestPolicyConfigPreservesDefaultClassesAndAppendsRules(t *testing.T) {
	cfg := Default()
	cfg.Policy.Rules = []PolicyRule{{Match: "shell", Verdict: "ask"}}
	pc := cfg.PolicyConfig()
	if len(pc.Classes) == 0 {
		t.Errorf("expected default risk classes to be preserved")
	}
	if len(pc.Rules) != 1 || pc.Rules[0].Match != "shell" {
		t.Errorf("expected configured rule to be appended: %+v", pc.Rules)
	}
}
