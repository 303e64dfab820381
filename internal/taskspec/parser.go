// Package taskspec parses the structured-input batch format (spec §4.4): a
// text blob delimited by literal ---TASK---/---CONTENT---/---END--- markers,
// one block per TaskSpec, followed by dependency-graph construction and a
// topological execution order.
package taskspec

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haricheung/memexcli/internal/types"
)

const (
	markerTask    = "---TASK---"
	markerContent = "---CONTENT---"
	markerEnd     = "---END---"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// parseState is the line-by-line state machine driving Parse — grounded on
// this codebase's preference for explicit state machines over regex-heavy
// parsing for multi-line formats.
type parseState int

const (
	stateOutside parseState = iota
	stateMeta
	stateContent
)

// Parse splits text into TaskSpecs and returns them in source order. It does
// not validate the dependency graph — call BuildGraph for that.
func Parse(text string) ([]types.TaskSpec, error) {
	var specs []types.TaskSpec
	var meta map[string]string
	var content strings.Builder
	state := stateOutside
	lineNo := 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		switch state {
		case stateOutside:
			if strings.TrimSpace(line) == markerTask {
				meta = make(map[string]string)
				content.Reset()
				state = stateMeta
			} else if strings.TrimSpace(line) != "" {
				return nil, fmt.Errorf("%w: line %d: expected %s, got %q", types.ErrParseInput, lineNo, markerTask, line)
			}

		case stateMeta:
			trimmed := strings.TrimSpace(line)
			if trimmed == markerContent {
				state = stateContent
				continue
			}
			if trimmed == "" {
				continue
			}
			key, val, ok := strings.Cut(trimmed, ":")
			if !ok {
				return nil, fmt.Errorf("%w: line %d: malformed metadata line %q", types.ErrParseInput, lineNo, line)
			}
			meta[strings.TrimSpace(key)] = strings.TrimSpace(val)

		case stateContent:
			if strings.TrimSpace(line) == markerEnd {
				spec, err := buildSpec(meta, content.String())
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				specs = append(specs, spec)
				state = stateOutside
				continue
			}
			if content.Len() > 0 {
				content.WriteString("\n")
			}
			content.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrParseInput, err)
	}
	if state != stateOutside {
		return nil, fmt.Errorf("%w: unterminated block (missing %s)", types.ErrParseInput, markerEnd)
	}

	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %q", types.ErrParseInput, s.ID)
		}
		seen[s.ID] = true
	}
	return specs, nil
}

func buildSpec(meta map[string]string, content string) (types.TaskSpec, error) {
	id := meta["id"]
	backend := meta["backend"]
	workdir := meta["workdir"]

	if id == "" || backend == "" || workdir == "" {
		return types.TaskSpec{}, fmt.Errorf("%w: missing required key (id/backend/workdir): %+v", types.ErrParseInput, meta)
	}
	if !idPattern.MatchString(id) {
		return types.TaskSpec{}, fmt.Errorf("%w: invalid id %q", types.ErrParseInput, id)
	}

	spec := types.TaskSpec{
		ID:            id,
		Backend:       backend,
		Workdir:       workdir,
		Model:         meta["model"],
		ModelProvider: meta["model-provider"],
		FilesEncoding: meta["files-encoding"],
		StreamFormat:  meta["stream-format"],
		Content:       content,
	}

	if deps := meta["dependencies"]; deps != "" {
		for _, d := range strings.Split(deps, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				spec.Dependencies = append(spec.Dependencies, d)
			}
		}
	}
	if files := meta["files"]; files != "" {
		for _, f := range strings.Split(files, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				spec.Files = append(spec.Files, f)
			}
		}
	}
	switch meta["files-mode"] {
	case "embed":
		spec.FilesMode = types.FilesEmbed
	case "ref":
		spec.FilesMode = types.FilesRef
	case "auto", "":
		spec.FilesMode = types.FilesAuto
	default:
		return types.TaskSpec{}, fmt.Errorf("%w: unknown files-mode %q", types.ErrParseInput, meta["files-mode"])
	}

	if t := meta["timeout"]; t != "" {
		secs, err := strconv.Atoi(t)
		if err != nil || secs < 1 {
			return types.TaskSpec{}, fmt.Errorf("%w: invalid timeout %q", types.ErrParseInput, t)
		}
		spec.Timeout = time.Duration(secs) * time.Second
	}
	if r := meta["retry"]; r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n < 0 {
			return types.TaskSpec{}, fmt.Errorf("%w: invalid retry %q", types.ErrParseInput, r)
		}
		spec.Retry = n
	}

	return spec, nil
}
