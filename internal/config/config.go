// Package config loads the engine's TOML configuration (spec §6) and
// applies environment variable overrides, generalizing this codebase's
// tiered env-var resolution (internal/llm/client.go's NewTier) from a flat
// client struct to a full config tree with nested sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/haricheung/memexcli/internal/gatekeeper"
	"github.com/haricheung/memexcli/internal/inject"
	"github.com/haricheung/memexcli/internal/policytool"
	"github.com/haricheung/memexcli/internal/types"
)

// Control holds top-level run identity and paths.
type Control struct {
	ProjectID      string `toml:"project_id"`
	DefaultBackend string `toml:"default_backend"`
	DataDir        string `toml:"data_dir"`
}

// Logging configures the engine's structured logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// PolicyRule mirrors policytool.Rule in TOML-friendly form.
type PolicyRule struct {
	Match   string `toml:"match"`
	Verdict string `toml:"verdict"` // allow|deny|ask
}

// Policy is the `[policy]` section: allow/deny lists and risk classes.
type Policy struct {
	Rules             []PolicyRule `toml:"rules"`
	Default           string       `toml:"default"`
	AskTimeoutDefault string       `toml:"ask_timeout_default"`
	AskTimeoutSeconds int          `toml:"ask_timeout_seconds"`
}

// Memory is the `[memory]` section: provider selection and its nested
// per-provider settings.
type Memory struct {
	Provider      string `toml:"provider"` // local|service|hybrid
	LocalPath     string `toml:"local_path"`
	ServiceURL    string `toml:"service_url"`
	ServiceAPIKey string `toml:"service_api_key"`
}

// PromptInject is the `[prompt_inject]` section, mapped onto inject.Config.
type PromptInject struct {
	FreshnessFloor           float64 `toml:"freshness_floor"`
	BlockIfConsecutiveFailGE int     `toml:"block_if_consecutive_fail_ge"`
	MinTrustShow             float64 `toml:"min_trust_show"`
	MinLevelInject           int     `toml:"min_level_inject"`
	MinLevelFallback         int     `toml:"min_level_fallback"`
	SkipIfTop1ScoreGE        float64 `toml:"skip_if_top1_score_ge"`
	MaxInject                int     `toml:"max_inject"`
	MaxTotalChars            int     `toml:"max_total_chars"`
}

// Gatekeeper is the `[gatekeeper]` section, mapped onto gatekeeper.Config.
type Gatekeeper struct {
	MinConfidence     float64 `toml:"min_confidence"`
	StrongTrust       float64 `toml:"strong_trust"`
	MinLevelInject    int     `toml:"min_level_inject"`
	SkipIfTop1ScoreGE float64 `toml:"skip_if_top1_score_ge"`
}

// CandidateExtract is the `[candidate_extract]` section. Most of the
// extractor's behavior (redaction table, tagging) is unconditional; this
// only tunes the confidence floor the gatekeeper also consults.
type CandidateExtract struct {
	MinConfidence float64 `toml:"min_confidence"`
}

// EventsOut is the `[events_out]` section.
type EventsOut struct {
	Dir string `toml:"dir"`
}

// TUI is the `[tui]` section.
type TUI struct {
	Theme string `toml:"theme"`
}

// StateManagement is the `[state_management]` section.
type StateManagement struct {
	Enabled bool `toml:"enabled"`
}

// LLMGrade is the `[llm_grade]` section: whether memory.TaskGrade calls are
// decorated with an LLM-backed grader, built via internal/llm's tiered env
// resolution (OPENAI_BASE_URL / OPENAI_API_KEY / OPENAI_MODEL).
type LLMGrade struct {
	Enabled bool `toml:"enabled"`
}

// Config is the full parsed configuration tree.
type Config struct {
	Control          Control          `toml:"control"`
	Logging          Logging          `toml:"logging"`
	Policy           Policy           `toml:"policy"`
	Memory           Memory           `toml:"memory"`
	PromptInject     PromptInject     `toml:"prompt_inject"`
	Gatekeeper       Gatekeeper       `toml:"gatekeeper"`
	CandidateExtract CandidateExtract `toml:"candidate_extract"`
	EventsOut        EventsOut        `toml:"events_out"`
	TUI              TUI              `toml:"tui"`
	StateManagement  StateManagement  `toml:"state_management"`
	LLMGrade         LLMGrade         `toml:"llm_grade"`
}

// Default returns the built-in configuration, matching the thresholds named
// throughout spec §4.5/§4.6 and a `~/.memex` data directory layout.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".memex")
	return Config{
		Control: Control{
			DefaultBackend: string(types.BackendCodex),
			DataDir:        dataDir,
		},
		Logging: Logging{Level: "info", Format: "text"},
		Policy: Policy{
			Default:           "allow",
			AskTimeoutDefault: "deny",
			AskTimeoutSeconds: 30,
		},
		Memory: Memory{
			Provider:  "local",
			LocalPath: filepath.Join(dataDir, "memory.db"),
		},
		PromptInject: PromptInject{
			FreshnessFloor:           0.001,
			BlockIfConsecutiveFailGE: 3,
			MinTrustShow:             0.0,
			MinLevelInject:           int(types.LevelL2),
			MinLevelFallback:         int(types.LevelL0),
			SkipIfTop1ScoreGE:        0.95,
			MaxInject:                5,
			MaxTotalChars:            4000,
		},
		Gatekeeper: Gatekeeper{
			MinConfidence:     0.45,
			StrongTrust:       0.85,
			MinLevelInject:    int(types.LevelL2),
			SkipIfTop1ScoreGE: 0.95,
		},
		CandidateExtract: CandidateExtract{MinConfidence: 0.45},
		EventsOut:        EventsOut{Dir: filepath.Join(dataDir, "events_out")},
		TUI:              TUI{Theme: "default"},
		StateManagement:  StateManagement{Enabled: false},
		LLMGrade:         LLMGrade{Enabled: false},
	}
}

// Load resolves the configuration per spec §6's priority order:
// ~/.memex/config.toml > ./config.toml > built-in defaults. explicitPath,
// when non-empty, is tried before either of those. Environment variables
// are always applied last, overriding whatever the file (or defaults) set.
func Load(explicitPath string) (Config, error) {
	cfg := Default()

	var candidates []string
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".memex", "config.toml"))
	}
	candidates = append(candidates, "config.toml")

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return cfg, fmt.Errorf("%w: reading %s: %v", types.ErrConfig, path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %v", types.ErrConfig, path, err)
		}
		break
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEM_CODECLI_PROJECT_ID"); v != "" {
		cfg.Control.ProjectID = v
	}
	if v := os.Getenv("MEM_CODECLI_MEMORY_URL"); v != "" {
		cfg.Memory.ServiceURL = v
	}
	if v := os.Getenv("MEM_CODECLI_MEMORY_API_KEY"); v != "" {
		cfg.Memory.ServiceAPIKey = v
	}
	if v := os.Getenv("MEMEX_ENABLE_STATE_MGMT"); v != "" {
		cfg.StateManagement.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MEMEX_ENABLE_LLM_GRADE"); v != "" {
		cfg.LLMGrade.Enabled = v == "true" || v == "1"
	} else if os.Getenv("OPENAI_API_KEY") != "" {
		cfg.LLMGrade.Enabled = true
	}
}

// InjectConfig converts the `[prompt_inject]` section to inject.Config.
func (c Config) InjectConfig() inject.Config {
	return inject.Config{
		FreshnessFloor:           c.PromptInject.FreshnessFloor,
		BlockIfConsecutiveFailGE: c.PromptInject.BlockIfConsecutiveFailGE,
		MinTrustShow:             c.PromptInject.MinTrustShow,
		MinLevelInject:           types.ValidationLevel(c.PromptInject.MinLevelInject),
		MinLevelFallback:         types.ValidationLevel(c.PromptInject.MinLevelFallback),
		SkipIfTop1ScoreGE:        c.PromptInject.SkipIfTop1ScoreGE,
		MaxInject:                c.PromptInject.MaxInject,
		MaxTotalChars:            c.PromptInject.MaxTotalChars,
	}
}

// GatekeeperConfig converts the `[gatekeeper]` section to gatekeeper.Config.
func (c Config) GatekeeperConfig() gatekeeper.Config {
	return gatekeeper.Config{
		MinConfidence:     c.Gatekeeper.MinConfidence,
		StrongTrust:       c.Gatekeeper.StrongTrust,
		MinLevelInject:    types.ValidationLevel(c.Gatekeeper.MinLevelInject),
		SkipIfTop1ScoreGE: c.Gatekeeper.SkipIfTop1ScoreGE,
	}
}

// PolicyConfig converts the `[policy]` section to policytool.Config,
// starting from policytool.DefaultConfig()'s risk-class table (the config
// file only ever adds rules, never redefines what a tool name's class is).
func (c Config) PolicyConfig() policytool.Config {
	pc := policytool.DefaultConfig()
	if c.Policy.Default != "" {
		pc.Default = policytool.Verdict(c.Policy.Default)
	}
	if c.Policy.AskTimeoutDefault != "" {
		pc.AskTimeoutDefault = policytool.Verdict(c.Policy.AskTimeoutDefault)
	}
	for _, r := range c.Policy.Rules {
		pc.Rules = append(pc.Rules, policytool.Rule{Match: r.Match, Verdict: policytool.Verdict(r.Verdict)})
	}
	return pc
}
