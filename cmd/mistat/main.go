// Command mistat is a small diagnostics CLI over the mimalloc package,
// in the same spirit as hivectl: one rootCmd, one subcommand per file,
// global --json/--quiet flags shared across subcommands.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "mistat",
	Short: "Inspect and manage a mimalloc arena registry",
	Long: `mistat is a diagnostics tool for the mimalloc allocator package.
It reports arena/abandoned-segment statistics and can trigger an
out-of-band purge of expired arena ranges.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
