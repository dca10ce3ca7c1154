package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/diagnostics"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	quiet     bool

	// Version info - set via SetVersion()
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "marketflow",
	Short: "Multi-agent EV and stock market analysis",
	Long: `marketflow answers market questions by coordinating a set of analysis
agents: market research, company analysis, stock analysis, chart generation
and report compilation. A supervisor decides which agents a request needs,
runs them in dependency order, retries transient failures and degrades the
report when optional agents fail.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// crashWriter records panics of the process; run commands attach the run id.
var crashWriter = diagnostics.NewCrashDumpWriter(diagnostics.DefaultCrashDir, 10, false, nil)

// Execute runs the root command and prints the error, if any.
func Execute() error {
	defer crashWriter.RecoverAndDump()

	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errRunUnsuccessful) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// errRunUnsuccessful marks a run that ended Failed or Blocked. The run
// itself has already been reported.
var errRunUnsuccessful = errors.New("run did not complete")

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errRunUnsuccessful):
		return 2
	case core.IsCategory(err, core.ErrCatValidation):
		return 64
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .marketflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress progress output")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}
