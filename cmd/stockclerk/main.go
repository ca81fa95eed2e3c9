// Stockclerk - Multi-tenant inventory stock synchronization.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags).
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "stockclerk",
	Short:   "Stockclerk - multi-tenant inventory stock synchronization",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("stockclerk version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildDate))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
