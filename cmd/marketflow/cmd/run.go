package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/marketflow/internal/clip"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/supervisor"
	"github.com/hugo-lorenzo-mato/marketflow/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Analyze a market request",
	Long: `Classify the request, run every agent it needs in dependency order and
compile a markdown report.

Examples:
  marketflow run "Compare Tesla and BYD stock over the last quarter"
  marketflow run "EV battery market trends" --render
  marketflow run "LG Energy Solution outlook" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an interrupted run",
	Long: `Resume a run that was persisted while still running, for example after
the process was interrupted. Finished runs cannot be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

type runFlags struct {
	json    bool
	tui     bool
	copy    bool
	render  bool
	verbose bool
}

var runOpts runFlags

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd)
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().BoolVar(&runOpts.json, "json", false, "print the final run and report as JSON")
		c.Flags().BoolVar(&runOpts.copy, "copy", false, "copy the report to the clipboard")
		c.Flags().BoolVar(&runOpts.render, "render", false, "render the report in the terminal")
		c.Flags().BoolVarP(&runOpts.verbose, "verbose", "v", false, "print every dispatch")
	}
	runCmd.Flags().BoolVar(&runOpts.tui, "tui", false, "show live progress in an interactive view")
}

func runRun(cmd *cobra.Command, args []string) error {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		return core.ErrValidation(core.CodeEmptyRequest, "request cannot be empty")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := supervisor.NewRunID()
	crashWriter.SetContext(string(id), "")

	snap, runErr := a.drive(ctx, id, outputMode(), func(ctx context.Context) (*core.Snapshot, error) {
		return a.runner.RunWithID(ctx, id, request)
	})
	return a.finishRun(snap, runErr)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := core.RunID(args[0])
	crashWriter.SetContext(string(id), "")

	mode := outputMode()
	if mode == tui.ModeTUI {
		mode = tui.ModePlain
	}
	snap, runErr := a.drive(ctx, id, mode, func(ctx context.Context) (*core.Snapshot, error) {
		return a.runner.Resume(ctx, id)
	})
	return a.finishRun(snap, runErr)
}

func outputMode() tui.OutputMode {
	d := tui.NewDetector()
	switch {
	case runOpts.json:
		d.ForceMode(tui.ModeJSON)
	case quiet:
		d.ForceMode(tui.ModeQuiet)
	}
	return d.Detect(runOpts.tui)
}

// drive executes fn while showing progress for run id in the given mode.
func (a *app) drive(ctx context.Context, id core.RunID, mode tui.OutputMode, fn func(context.Context) (*core.Snapshot, error)) (*core.Snapshot, error) {
	switch mode {
	case tui.ModeTUI:
		return a.driveTUI(ctx, id, fn)
	case tui.ModePlain:
		ch := a.bus.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			tui.NewPlainOutput(os.Stderr, useColor(), runOpts.verbose).Run(context.Background(), string(id), ch)
		}()
		snap, err := fn(ctx)
		a.bus.Unsubscribe(ch)
		<-done
		return snap, err
	default:
		return fn(ctx)
	}
}

func (a *app) driveTUI(ctx context.Context, id core.RunID, fn func(context.Context) (*core.Snapshot, error)) (*core.Snapshot, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	adapter := tui.NewEventBusAdapter(a.bus, string(id))
	defer adapter.Close()

	var order []core.AgentID
	for _, d := range a.runner.Registry().Descriptors() {
		order = append(order, d.ID)
	}
	program := tea.NewProgram(tui.NewModel(string(id), order, adapter, cancel), tea.WithOutput(os.Stderr))

	type result struct {
		snap *core.Snapshot
		err  error
	}
	results := make(chan result, 1)
	go func() {
		snap, err := fn(runCtx)
		results <- result{snap, err}
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		a.logger.Warn("progress view failed", "error", err)
	}
	res := <-results
	return res.snap, res.err
}

// finishRun prints the outcome of a run and maps it to the command error.
func (a *app) finishRun(snap *core.Snapshot, runErr error) error {
	if snap == nil {
		return runErr
	}

	report := finalReport(snap)
	if runOpts.json {
		if err := writeJSON(os.Stdout, runOutput{Run: snap, Report: report}); err != nil {
			return err
		}
	} else {
		color := useColor()
		printSnapshot(os.Stdout, snap, color)
		if report != nil && runOpts.render {
			fmt.Fprintln(os.Stdout)
			fmt.Fprint(os.Stdout, renderMarkdown(report.Markdown, terminalWidth(), color))
		}
	}

	if report != nil && runOpts.copy {
		res, err := clip.New().Copy(report.Markdown, report.Path)
		switch {
		case err != nil:
			a.logger.Warn("copy failed", "error", err)
		case res.Method == clip.MethodFile:
			fmt.Fprintf(os.Stderr, "Clipboard unavailable, report saved at %s\n", res.FilePath)
		default:
			fmt.Fprintf(os.Stderr, "Report copied to clipboard (%s)\n", res.Method)
		}
	}

	if runErr != nil {
		if core.IsCategory(runErr, core.ErrCatAbort) || errors.Is(runErr, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Run %s was cancelled\n", snap.RequestID)
		}
		return runErr
	}
	if snap.Status != core.StatusDone {
		return errRunUnsuccessful
	}
	return nil
}
