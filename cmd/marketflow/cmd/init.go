package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/marketflow/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a marketflow project",
	Long: `Create .marketflow/config.yaml with the default configuration and the
documents directory for local company files.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing configuration")
}

func runInit(_ *cobra.Command, _ []string) error {
	if err := config.WriteDefaultConfig(config.DefaultConfigPath, initForce); err != nil {
		return err
	}
	docsDir := filepath.Join(filepath.Dir(config.DefaultConfigPath), "documents")
	if err := os.MkdirAll(docsDir, 0o750); err != nil {
		return fmt.Errorf("creating documents directory: %w", err)
	}

	fmt.Printf("Created %s\n", config.DefaultConfigPath)
	fmt.Printf("Created %s/\n", docsDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  export TAVILY_API_KEY=...       # web search for market research")
	fmt.Println("  export ANTHROPIC_API_KEY=...    # optional, set llm.enabled: true")
	fmt.Printf("  add company files under %s/<company>/\n", docsDir)
	fmt.Println("  marketflow doctor")
	return nil
}
