package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log [run-id]",
	Short: "Show the execution log of a run",
	Long: `Print every agent attempt of a run in order, with its outcome and duration.
With --agent, print the latest attempts of one agent across all runs instead
(sqlite backend only).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLog,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var (
	statusJSON   bool
	statusRender bool
	logJSON      bool
	logAgent     string
	logLimit     int
	runsJSON     bool
	runsStatus   string
	runsLimit    int
)

func init() {
	rootCmd.AddCommand(statusCmd, logCmd, runsCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the run as JSON")
	statusCmd.Flags().BoolVar(&statusRender, "render", false, "render the report in the terminal")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "print the log as JSON")
	logCmd.Flags().StringVar(&logAgent, "agent", "", "show one agent's attempts across runs")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "maximum number of attempts with --agent")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print runs as JSON")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "only show runs with this status")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs (0 for all)")
}

// withStore opens the configured run store for read-only commands.
func withStore(fn func(context.Context, core.StateManager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := state.NewStateManager(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer func() { _ = state.CloseStateManager(store) }()
	return fn(context.Background(), store)
}

func runStatus(_ *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store core.StateManager) error {
		snap, err := store.Load(ctx, core.RunID(args[0]))
		if err != nil {
			return err
		}
		report := finalReport(snap)
		if statusJSON {
			return writeJSON(os.Stdout, runOutput{Run: snap, Report: report})
		}
		color := useColor()
		printSnapshot(os.Stdout, snap, color)
		if report != nil && statusRender {
			fmt.Fprintln(os.Stdout)
			fmt.Fprint(os.Stdout, renderMarkdown(report.Markdown, terminalWidth(), color))
		}
		return nil
	})
}

// agentHistorian is implemented by stores that index attempts by agent.
type agentHistorian interface {
	AgentHistory(ctx context.Context, agent core.AgentID, limit int) ([]core.HistoryEntry, error)
}

func runLog(_ *cobra.Command, args []string) error {
	if (len(args) == 1) == (logAgent != "") {
		return fmt.Errorf("pass either a run id or --agent")
	}
	return withStore(func(ctx context.Context, store core.StateManager) error {
		history, err := loadHistory(ctx, store, args, core.AgentID(logAgent), logLimit)
		if err != nil {
			return err
		}
		if logJSON {
			return writeJSON(os.Stdout, history)
		}
		printHistory(os.Stdout, history)
		return nil
	})
}

// loadHistory returns the log of the run in args, or the recent attempts of
// agent when no run is given. Agent history is returned oldest first.
func loadHistory(ctx context.Context, store core.StateManager, args []string, agent core.AgentID, limit int) ([]core.HistoryEntry, error) {
	if len(args) == 1 {
		snap, err := store.Load(ctx, core.RunID(args[0]))
		if err != nil {
			return nil, err
		}
		return snap.History, nil
	}
	historian, ok := store.(agentHistorian)
	if !ok {
		return nil, fmt.Errorf("--agent needs the sqlite state backend")
	}
	history, err := historian.AgentHistory(ctx, agent, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func printHistory(w io.Writer, history []core.HistoryEntry) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No agent attempts recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAGENT\tATTEMPT\tOUTCOME\tDURATION\tERROR")
	failed := 0
	for _, h := range history {
		if h.Outcome.IsFailure() {
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			h.Timestamp.Local().Format("15:04:05.000"),
			h.Agent,
			h.Attempt,
			h.Outcome,
			h.Duration.Round(time.Millisecond),
			truncate(h.Error, 80),
		)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d attempts, %d failed\n", len(history), failed)
}

func runRuns(_ *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, store core.StateManager) error {
		runs, err := store.List(ctx)
		if err != nil {
			return err
		}
		runs = filterRuns(runs, runsStatus, runsLimit)
		if runsJSON {
			if runs == nil {
				runs = []core.RunSummary{}
			}
			return writeJSON(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			fmt.Println("Run 'marketflow run \"<request>\"' to start one.")
			return nil
		}
		printRuns(os.Stdout, runs)
		return nil
	})
}

func filterRuns(runs []core.RunSummary, status string, limit int) []core.RunSummary {
	var out []core.RunSummary
	for _, r := range runs {
		if status != "" && !strings.EqualFold(string(r.Status), status) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printRuns(w io.Writer, runs []core.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tDONE\tFAILED\tREQUEST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID,
			r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Completed,
			r.Failed,
			truncate(r.Request, 60),
		)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
