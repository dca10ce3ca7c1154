package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hugo-lorenzo-mato/marketflow/internal/agents"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/tui"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(tui.ColorSuccess)
	failStyle  = lipgloss.NewStyle().Foreground(tui.ColorError).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(tui.ColorTextMuted)
	titleStyle = lipgloss.NewStyle().Foreground(tui.ColorPrimary).Bold(true)
)

// runOutput is the JSON document printed by `run --json` and `status --json`.
type runOutput struct {
	Run    *core.Snapshot      `json:"run"`
	Report *agents.FinalReport `json:"report,omitempty"`
}

// finalReport decodes the report compiler result, if the run produced one.
func finalReport(snap *core.Snapshot) *agents.FinalReport {
	if snap == nil {
		return nil
	}
	res, ok := snap.Results[core.AgentReportCompiler]
	if !ok {
		return nil
	}
	var report agents.FinalReport
	if err := res.Decode(&report); err != nil {
		return nil
	}
	return &report
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func useColor() bool {
	return !noColor && tui.NewDetector().ShouldUseColor()
}

func paint(style lipgloss.Style, s string, color bool) string {
	if !color {
		return s
	}
	return style.Render(s)
}

// printSnapshot writes a human summary of a run.
func printSnapshot(w io.Writer, snap *core.Snapshot, color bool) {
	elapsed := snap.UpdatedAt.Sub(snap.StartedAt)
	if snap.FinishedAt != nil {
		elapsed = snap.FinishedAt.Sub(snap.StartedAt)
	}
	status := string(snap.Status)
	switch snap.Status {
	case core.StatusDone:
		status = paint(okStyle, status, color)
	case core.StatusFailed, core.StatusBlocked:
		status = paint(failStyle, status, color)
	}

	fmt.Fprintf(w, "%s %s: %s (%s)\n", paint(titleStyle, "Run", color), snap.RequestID, status,
		elapsed.Round(10*time.Millisecond))
	fmt.Fprintf(w, "Request: %s\n", snap.Request)
	fmt.Fprintf(w, "Intents: %s\n", joinIntents(snap.Intents.Sorted()))
	if snap.Reason != "" {
		fmt.Fprintf(w, "Reason:  %s\n", snap.Reason)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, id := range touchedAgents(snap) {
		attempts := snap.RetryCounts[id]
		switch {
		case snap.CompletedAgents.Has(id):
			attempts++
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", paint(okStyle, "✓", color), id, attempts, snap.Results[id].Summary)
		case snap.PermanentlyFailedAgents.Has(id):
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", paint(failStyle, "✗", color), id, attempts, snap.Errors[id])
		default:
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", paint(mutedStyle, "…", color), id, attempts, snap.Errors[id])
		}
	}
	_ = tw.Flush()

	if report := finalReport(snap); report != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Report: %s\n", report.Path)
		if missing := report.Unavailable(); len(missing) > 0 {
			fmt.Fprintf(w, "Unavailable sections: %s\n", strings.Join(missing, ", "))
		}
	}
}

// touchedAgents lists agents that ran at least once, in pipeline order
// followed by any others by name.
func touchedAgents(snap *core.Snapshot) []core.AgentID {
	seen := map[core.AgentID]bool{}
	for id := range snap.CompletedAgents {
		seen[id] = true
	}
	for id := range snap.PermanentlyFailedAgents {
		seen[id] = true
	}
	for id := range snap.RetryCounts {
		seen[id] = true
	}

	var out []core.AgentID
	for _, id := range core.AllAgents() {
		if seen[id] {
			out = append(out, id)
			delete(seen, id)
		}
	}
	var rest []core.AgentID
	for id := range seen {
		rest = append(rest, id)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func joinIntents(intents []core.Intent) string {
	parts := make([]string, len(intents))
	for i, in := range intents {
		parts[i] = string(in)
	}
	return strings.Join(parts, ", ")
}

// renderMarkdown renders markdown for the terminal, falling back to the
// raw text when glamour cannot.
func renderMarkdown(md string, width int, color bool) string {
	style := "dark"
	if !color {
		style = "notty"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w - 4
	}
	return 96
}
