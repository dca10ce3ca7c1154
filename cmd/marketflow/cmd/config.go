package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, config files, environment
variables and flags. Secrets are masked unless --show-secrets is set.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var showSecrets bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print api keys in clear text")
}

var secretKeys = []string{"search.api_key", "llm.api_key"}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings := viper.AllSettings()
	// Keys resolved from TAVILY_API_KEY/ANTHROPIC_API_KEY live only in cfg.
	setNested(settings, "search.api_key", cfg.Search.APIKey)
	setNested(settings, "llm.api_key", cfg.LLM.APIKey)
	if !showSecrets {
		for _, k := range secretKeys {
			maskNested(settings, k)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("# source: %s\n", used)
	} else {
		fmt.Println("# source: built-in defaults")
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(settings)
}

func setNested(m map[string]interface{}, dotted, value string) {
	section, key, ok := strings.Cut(dotted, ".")
	if !ok {
		return
	}
	sub, ok := m[section].(map[string]interface{})
	if !ok {
		sub = map[string]interface{}{}
		m[section] = sub
	}
	sub[key] = value
}

func maskNested(m map[string]interface{}, dotted string) {
	section, key, ok := strings.Cut(dotted, ".")
	if !ok {
		return
	}
	sub, ok := m[section].(map[string]interface{})
	if !ok {
		return
	}
	if s, _ := sub[key].(string); s != "" {
		sub[key] = mask(s)
	}
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-2:]
}
