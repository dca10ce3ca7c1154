package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/marketflow/internal/agents"
	"github.com/hugo-lorenzo-mato/marketflow/internal/config"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
	"github.com/hugo-lorenzo-mato/marketflow/internal/supervisor"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured agents and their policy",
	Long: `List every enabled agent with its dependencies, criticality, priority and
retry policy. Agents are grouped by dependency level: an agent only runs
after the agents of earlier levels it reads from have settled. With --plan,
show which agents a request would require.`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

var (
	agentsJSON bool
	agentsPlan string
)

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "print agents as JSON")
	agentsCmd.Flags().StringVar(&agentsPlan, "plan", "", "show the intents and agents a request would use")
}

// agentInfo is the JSON form of a descriptor.
type agentInfo struct {
	ID             core.AgentID   `json:"id"`
	RequiredInputs []core.AgentID `json:"required_inputs"`
	OptionalInputs []core.AgentID `json:"optional_inputs"`
	Applicable     []core.Intent  `json:"applicable"`
	Critical       bool           `json:"critical"`
	Priority       int            `json:"priority"`
	MaxRetries     int            `json:"max_retries"`
	Timeout        string         `json:"timeout"`
	Level          int            `json:"level"`
	Feeds          []core.AgentID `json:"feeds"`
}

func runAgents(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := inspectRegistry(cfg)
	if err != nil {
		return err
	}

	infos := describeAgents(registry)

	if agentsPlan != "" {
		classifier := supervisor.NewIntentClassifier(cfg.Intents.Keywords(), cfg.Intents.FallbackIntents())
		intents := classifier.Classify(agentsPlan)
		required := registry.RequiredSet(intents)
		if agentsJSON {
			return writeJSON(os.Stdout, map[string]interface{}{
				"intents":  intents.Sorted(),
				"required": required,
				"agents":   infos,
			})
		}
		fmt.Printf("Intents:  %s\n", joinIntents(intents.Sorted()))
		fmt.Printf("Required: %s\n\n", joinIDs(required))
	} else if agentsJSON {
		return writeJSON(os.Stdout, infos)
	}

	printAgents(os.Stdout, infos)
	return nil
}

// describeAgents lists agents level by level, by priority within a level.
func describeAgents(registry *supervisor.Registry) []agentInfo {
	var infos []agentInfo
	for level, ids := range registry.Levels() {
		for _, id := range ids {
			d, _ := registry.Descriptor(id)
			infos = append(infos, agentInfo{
				ID:             d.ID,
				RequiredInputs: d.RequiredInputs,
				OptionalInputs: d.OptionalInputs,
				Applicable:     applicableIntents(d),
				Critical:       d.Critical,
				Priority:       d.Priority,
				MaxRetries:     d.AttemptLimit(),
				Timeout:        d.Timeout.String(),
				Level:          level,
				Feeds:          registry.Dependents(id),
			})
		}
	}
	return infos
}

// applicableIntents lists the single intents that make d required.
func applicableIntents(d core.AgentDescriptor) []core.Intent {
	var out []core.Intent
	for _, in := range core.AllIntents() {
		if d.IsApplicable(core.NewIntentSet(in)) {
			out = append(out, in)
		}
	}
	return out
}

// inspectRegistry builds the registry without any adapters; it is only
// used to read descriptors.
func inspectRegistry(cfg *config.Config) (*supervisor.Registry, error) {
	return agents.NewRegistry(cfg, agents.Sources{Logger: logging.NewNop()})
}

func printAgents(w io.Writer, infos []agentInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tAGENT\tREQUIRES\tOPTIONAL\tFEEDS\tINTENTS\tCRITICAL\tPRIORITY\tRETRIES\tTIMEOUT")
	for _, a := range infos {
		intents := make([]string, len(a.Applicable))
		for i, in := range a.Applicable {
			intents[i] = string(in)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			a.Level,
			a.ID,
			dash(joinIDs(a.RequiredInputs)),
			dash(joinIDs(a.OptionalInputs)),
			dash(joinIDs(a.Feeds)),
			dash(strings.Join(intents, ",")),
			a.Critical,
			a.Priority,
			a.MaxRetries,
			a.Timeout,
		)
	}
	_ = tw.Flush()
}

func joinIDs(ids []core.AgentID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
