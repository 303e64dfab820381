package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/haricheung/memexcli/internal/llm"
	"github.com/haricheung/memexcli/internal/types"
)

// llmGraded decorates a Facade, answering TaskGrade by asking an LLM to
// classify a prompt into one of the four trust tiers rather than returning
// ErrUnsupported. Every other method is forwarded unchanged.
type llmGraded struct {
	Facade
	client *llm.Client
}

// WithLLMGrader wraps base so TaskGrade calls out to client instead of
// whatever base itself implements (Local/Remote/Hybrid all otherwise answer
// TaskGrade with either ErrUnsupported or a remote round trip). This is the
// pluggable task_grade scoring model the design leaves as an open slot: a
// caller with no LLM configured just uses base directly.
func WithLLMGrader(base Facade, client *llm.Client) Facade {
	return &llmGraded{Facade: base, client: client}
}

const gradeSystemPrompt = `You calibrate trust in a stored question/answer pair for a coding assistant's memory layer. Respond with exactly one token: L0, L1, L2, or L3. L0 means unverified, L3 means strongly verified across multiple runs. Do not explain your answer.`

func (g *llmGraded) TaskGrade(ctx context.Context, prompt string) (Grade, error) {
	resp, _, err := g.client.Chat(ctx, gradeSystemPrompt, prompt)
	if err != nil {
		return Grade{}, fmt.Errorf("%w: llm grading call: %v", types.ErrMemory, err)
	}
	level := parseGradeLevel(resp)
	if level == "" {
		return Grade{}, fmt.Errorf("%w: llm returned unrecognized grade %q", types.ErrMemory, resp)
	}
	return Grade{Level: level}, nil
}

func parseGradeLevel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, level := range []string{"L0", "L1", "L2", "L3"} {
		if strings.Contains(s, level) {
			return level
		}
	}
	return ""
}
