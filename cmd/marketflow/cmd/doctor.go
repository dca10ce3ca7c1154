package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/marketflow/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and host resources",
	Long: `Verify that the configuration is valid, that state and output directories
are writable, that provider credentials are present and that the host has
enough memory and disk. Exits non-zero when a check fails.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var doctorJSON bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	doctor := diagnostics.NewDoctor(cfg, nil,
		diagnostics.WithCrashDir(crashWriter.Dir()),
		diagnostics.WithNATSDialer(dialNATS),
	)
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	report := doctor.Run(ctx)

	if doctorJSON {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		printDoctor(os.Stdout, report, useColor())
	}
	if !report.Healthy() {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}

func dialNATS(_ context.Context, url string) error {
	conn, err := events.ConnectNATS(url)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func printDoctor(w io.Writer, report diagnostics.Report, color bool) {
	h := report.Host
	fmt.Fprintln(w, "Host")
	fmt.Fprintf(w, "  %s, %s, %d threads (%s)\n", dash(h.Platform), dash(h.CPUModel), h.CPUThreads, h.GoVersion)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Checks")
	for _, c := range report.Checks {
		icon := "✓"
		style := okStyle
		switch c.Status {
		case diagnostics.StatusWarn:
			icon, style = "⚠", mutedStyle
		case diagnostics.StatusFail:
			icon, style = "✗", failStyle
		}
		fmt.Fprintf(w, "  %s %-10s %s\n", paint(style, icon, color), c.Name, c.Detail)
	}
}
