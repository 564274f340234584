package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

var flagFmt string

func versionString() string {
	if commit != "" && buildDate != "" {
		return fmt.Sprintf("rhesis version %s (commit: %s, built: %s)", version, commit, buildDate)
	}
	return fmt.Sprintf("rhesis version %s-dev", version)
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "rhesis",
		Short:        "Rhesis test execution backend",
		Version:      versionString(),
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flagFmt, "format", "yaml", "Output format: yaml|json|quiet")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newOrgCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
