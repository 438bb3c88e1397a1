package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	providersFile string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "evalharness",
	Short: "Evalharness - provider dispatch layer for LLM evaluations",
	Long: `Evalharness runs evaluation calls against LLM vendors through one
normalized pipeline.

It provides:
  - Colon-delimited provider identifiers (vendor:mode:model)
  - Layered configuration (test overrides, provider config, environment)
  - Pluggable vendor adapters with OpenAI-compatible aliasing
  - Deterministic response caching, retries with backoff, cost accounting
  - Session pooling for multi-turn providers`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&providersFile, "providers", "p", "", "providers file path (overrides PROVIDERS_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
