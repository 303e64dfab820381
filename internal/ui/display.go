// Package ui renders a live view of a run's state-machine transitions,
// generalizing this codebase's role-to-role pipeline visualization from a
// fixed sequence of named roles to session.Bus's Initializing..Completed/
// Failed state graph.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haricheung/memexcli/internal/session"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

var stateColor = map[session.State]string{
	session.Initializing:         ansiCyan,
	session.MemorySearch:         ansiDim,
	session.RunnerStarting:       ansiCyan,
	session.RunnerRunning:        ansiYellow,
	session.GatekeeperEvaluating: ansiCyan,
	session.MemoryPersisting:     ansiDim,
	session.Completed:            ansiGreen,
	session.Failed:               ansiRed,
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display renders transitions read from a session.Bus tap as a live pipeline
// view: one box per run, a spinner while RunnerRunning holds, a colored
// summary line per transition.
type Display struct {
	tap     <-chan session.Transition
	mu      sync.Mutex
	status  string
	started time.Time
	runID   string
	inRun   bool
	spinIdx int
}

// New creates a Display reading from tap.
func New(tap <-chan session.Transition) *Display {
	return &Display{tap: tap}
}

// Run is the display's main loop; it returns when ctx is cancelled or tap is
// closed. All terminal writes happen on this single goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Print("\r\033[K")
			return

		case t, ok := <-d.tap:
			if !ok {
				return
			}
			if !d.inRun || t.RunID != d.runID {
				d.startRun(t.RunID)
			}
			fmt.Print("\r\033[K")
			d.printTransition(t)
			d.setStatus(string(t.To))
			if t.To == session.Completed || t.To == session.Failed {
				d.endRun(t.To == session.Completed)
			}

		case <-ticker.C:
			if !d.inRun {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			d.mu.Lock()
			status := d.status
			d.mu.Unlock()
			fmt.Printf("\r\033[K%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

func (d *Display) startRun(runID string) {
	d.runID = runID
	d.started = time.Now()
	d.inRun = true
	d.setStatus("initializing...")
	fmt.Printf("\n%s┌─── run %s %s%s\n", ansiDim, clip(runID, 12), strings.Repeat("─", 36), ansiReset)
}

func (d *Display) endRun(success bool) {
	d.inRun = false
	elapsed := time.Since(d.started).Round(time.Millisecond)
	icon := "✅"
	if !success {
		icon = "❌"
	}
	fmt.Printf("\r\033[K%s└─── %s  %v %s%s\n", ansiDim, icon, elapsed, strings.Repeat("─", 35), ansiReset)
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *Display) printTransition(t session.Transition) {
	color := stateColor[t.To]
	if color == "" {
		color = ansiDim
	}
	line := fmt.Sprintf("  %s ──[%s%s%s]──► %s", t.From, color, t.To, ansiReset, t.Note)
	fmt.Println(strings.TrimRight(line, " "))
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
