// Package main implements the guidepost CLI for querying community content
// sources and printing the ranked results.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// flagConfig overrides the default config file location
	flagConfig string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guidepost",
	Short: "Ranked walkthrough retrieval across gaming communities",
	Long: `guidepost queries discussion forums, Q&A platforms, and video guide
indexes for a help topic, collapses duplicate answers, and ranks what is left
by quality. Results are cached so repeated lookups stay cheap.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(purgeCmd)
}

// initCmd writes the default configuration for editing
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE:  runInit,
}

// purgeCmd drops expired rows from the result cache
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired entries from the result cache",
	RunE:  runPurge,
}
