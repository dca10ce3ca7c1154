package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
)

// AgentState is the display state of one agent.
type AgentState int

const (
	AgentIdle AgentState = iota
	AgentPending
	AgentRunning
	AgentRetrying
	AgentDone
	AgentFailed
)

func (s AgentState) terminal() bool { return s == AgentDone || s == AgentFailed }

// AgentRow is one line of the progress table.
type AgentRow struct {
	ID       core.AgentID
	State    AgentState
	Attempt  int
	Critical bool
	Duration time.Duration
	Summary  string
	Error    string
}

// Model is the Bubbletea model of a single run.
type Model struct {
	runID    string
	request  string
	intents  []string
	rows     []*AgentRow
	byID     map[core.AgentID]*AgentRow
	started  time.Time
	finished *events.RunFinishedEvent

	adapter  *EventBusAdapter
	cancel   func()
	spinner  spinner.Model
	progress progress.Model
	width    int
	now      func() time.Time
}

// NewModel creates a view for runID listing agents in registry order.
// cancel is invoked when the user quits before the run ends.
func NewModel(runID string, agents []core.AgentID, adapter *EventBusAdapter, cancel func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle

	m := Model{
		runID:   runID,
		byID:    make(map[core.AgentID]*AgentRow, len(agents)),
		adapter: adapter,
		cancel:  cancel,
		spinner: sp,
		progress: progress.New(
			progress.WithScaledGradient(string(ColorPrimary), string(ColorSecondary)),
			progress.WithoutPercentage(),
		),
		width: 80,
		now:   time.Now,
	}
	for _, id := range agents {
		row := &AgentRow{ID: id}
		m.rows = append(m.rows, row)
		m.byID[id] = row
	}
	return m
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.adapter != nil {
		cmds = append(cmds, m.adapter.Wait())
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.finished == nil && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		if m.finished != nil {
			return m, tea.Quit
		}
		if m.adapter != nil {
			return m, m.adapter.Wait()
		}
		return m, nil

	case busClosedMsg:
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one event into the view state.
func (m *Model) apply(e events.Event) {
	switch ev := e.(type) {
	case events.RunStartedEvent:
		m.request = ev.Request
		m.intents = ev.Intents
		m.started = ev.Timestamp()
		for _, id := range ev.Required {
			if row := m.row(core.AgentID(id)); row.State == AgentIdle {
				row.State = AgentPending
			}
		}
	case events.AgentDispatchedEvent:
		row := m.row(core.AgentID(ev.Agent))
		row.State = AgentRunning
		row.Attempt = ev.Attempt
	case events.AgentOutcomeEvent:
		row := m.row(core.AgentID(ev.Agent))
		row.Attempt = ev.Attempt
		row.Critical = ev.Critical
		row.Duration += ev.Duration
		row.Summary = ev.Summary
		row.Error = ev.Error
		switch ev.EventType() {
		case events.TypeAgentSucceeded:
			row.State = AgentDone
		case events.TypeAgentRetrying:
			row.State = AgentRetrying
		default:
			row.State = AgentFailed
		}
	case events.RunFinishedEvent:
		m.finished = &ev
	}
}

func (m *Model) row(id core.AgentID) *AgentRow {
	if row, ok := m.byID[id]; ok {
		return row
	}
	row := &AgentRow{ID: id}
	m.rows = append(m.rows, row)
	m.byID[id] = row
	return row
}

// Rows returns the current agent rows.
func (m Model) Rows() []AgentRow {
	out := make([]AgentRow, len(m.rows))
	for i, r := range m.rows {
		out[i] = *r
	}
	return out
}

// Finished returns the terminal event, if the run has ended.
func (m Model) Finished() *events.RunFinishedEvent { return m.finished }

// Progress is the share of required agents in a terminal state.
func (m Model) Progress() float64 {
	total, settled := 0, 0
	for _, r := range m.rows {
		if r.State == AgentIdle {
			continue
		}
		total++
		if r.State.terminal() {
			settled++
		}
	}
	if m.finished != nil {
		return 1
	}
	if total == 0 {
		return 0
	}
	return float64(settled) / float64(total)
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("marketflow  " + m.runID))
	b.WriteString("\n")
	if m.request != "" {
		b.WriteString(textStyle.Render(truncate(m.request, m.width-4)))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("intents: " + strings.Join(m.intents, ", ")))
		b.WriteString("\n\n")
	}

	bar := m.progress
	bar.Width = max(10, m.width-20)
	b.WriteString(bar.ViewAs(m.Progress()))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %3.0f%%", m.Progress()*100)))
	b.WriteString("\n\n")

	var rows strings.Builder
	for i, r := range m.rows {
		if i > 0 {
			rows.WriteString("\n")
		}
		rows.WriteString(m.renderRow(r))
	}
	b.WriteString(boxStyle.Render(rows.String()))
	b.WriteString("\n")

	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderRow(r *AgentRow) string {
	limit := max(20, m.width-36)
	var icon, detail string
	switch r.State {
	case AgentIdle:
		icon = mutedStyle.Render("·")
		detail = mutedStyle.Render("not required")
	case AgentPending:
		icon = mutedStyle.Render("○")
		detail = mutedStyle.Render("waiting")
	case AgentRunning:
		icon = m.spinner.View()
		detail = runningStyle.Render(fmt.Sprintf("running (attempt %d)", r.Attempt))
	case AgentRetrying:
		icon = warningStyle.Render("↻")
		detail = warningStyle.Render(truncate(fmt.Sprintf("retrying after attempt %d: %s", r.Attempt, r.Error), limit))
	case AgentDone:
		icon = successStyle.Render("✓")
		detail = textStyle.Render(truncate(r.Summary, limit))
	case AgentFailed:
		icon = errorStyle.Render("✗")
		detail = errorStyle.Render(truncate(r.Error, limit))
	}
	name := string(r.ID)
	if r.Critical {
		name += "*"
	}
	dur := ""
	if r.Duration > 0 {
		dur = mutedStyle.Render(fmt.Sprintf(" %6s", r.Duration.Round(100*time.Millisecond)))
	}
	return fmt.Sprintf("%s %-18s%s  %s", icon, name, dur, detail)
}

func (m Model) renderFooter() string {
	if m.finished == nil {
		elapsed := time.Duration(0)
		if !m.started.IsZero() {
			elapsed = m.now().Sub(m.started).Round(time.Second)
		}
		return footerStyle.Render(fmt.Sprintf("elapsed %s  ·  q to cancel", elapsed))
	}
	f := m.finished
	line := fmt.Sprintf("run %s in %s", f.Status, f.Duration.Round(100*time.Millisecond))
	if f.Reason != "" {
		line += ": " + f.Reason
	}
	switch core.WorkflowStatus(f.Status) {
	case core.StatusDone:
		return successStyle.MarginTop(1).Render(line)
	default:
		return errorStyle.MarginTop(1).Render(line)
	}
}

// truncate shortens unstyled text to n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
