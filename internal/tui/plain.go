package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
)

// PlainOutput prints one line per run event for non-interactive terminals.
type PlainOutput struct {
	writer   io.Writer
	useColor bool
	verbose  bool
	mu       sync.Mutex
}

// NewPlainOutput creates a plain printer writing to w.
func NewPlainOutput(w io.Writer, useColor, verbose bool) *PlainOutput {
	return &PlainOutput{writer: w, useColor: useColor, verbose: verbose}
}

// Run prints events of runID from ch until the run finishes or ctx ends.
func (p *PlainOutput) Run(ctx context.Context, runID string, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if runID != "" && e.RunID() != runID {
				continue
			}
			p.Print(e)
			if e.EventType() == events.TypeRunFinished {
				return
			}
		}
	}
}

// Print writes a single event.
func (p *PlainOutput) Print(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case events.RunStartedEvent:
		verb := "started"
		if ev.Resumed {
			verb = "resumed"
		}
		p.printf("%s run %s %s (intents: %s)\n", p.icon("run"), ev.RunID(), verb, strings.Join(ev.Intents, ", "))
		if p.verbose {
			p.printf("  required: %s\n", strings.Join(ev.Required, ", "))
		}
	case events.AgentDispatchedEvent:
		if p.verbose {
			p.printf("%s %s dispatched (attempt %d, batch %d)\n", p.icon("running"), ev.Agent, ev.Attempt, ev.Batch)
		}
	case events.AgentOutcomeEvent:
		switch ev.EventType() {
		case events.TypeAgentSucceeded:
			p.printf("%s %s done in %s: %s\n", p.icon("done"), ev.Agent, round(ev.Duration), ev.Summary)
		case events.TypeAgentRetrying:
			p.printf("%s %s attempt %d failed, retrying: %s\n", p.icon("retry"), ev.Agent, ev.Attempt, ev.Error)
		default:
			p.printf("%s %s failed after %d attempts: %s\n", p.icon("failed"), ev.Agent, ev.Attempt, ev.Error)
		}
	case events.RunFinishedEvent:
		line := fmt.Sprintf("%s run %s %s in %s", p.icon(ev.Status), ev.RunID(), ev.Status, round(ev.Duration))
		if ev.Reason != "" {
			line += ": " + ev.Reason
		}
		p.printf("%s\n", line)
	}
}

func (p *PlainOutput) icon(kind string) string {
	var plain, styled string
	switch kind {
	case "run":
		plain, styled = "==>", headerStyle.UnsetMarginBottom().Render("==>")
	case "running":
		plain, styled = "[..]", runningStyle.Render("[..]")
	case "done":
		plain, styled = "[ok]", successStyle.Render("[ok]")
	case "retry":
		plain, styled = "[~~]", warningStyle.Render("[~~]")
	default:
		plain, styled = "[!!]", errorStyle.Render("[!!]")
	}
	if p.useColor {
		return styled
	}
	return plain
}

func (p *PlainOutput) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.writer, format, args...)
}

func round(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}
