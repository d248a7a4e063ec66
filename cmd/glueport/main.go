package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "glueport",
		Short: "Migrate an IT Glue export into a destination documentation platform",
		Long: "glueport parses an IT Glue CSV export, previews what a migration would do,\n" +
			"and drives a resumable nine-phase migration against the destination API.",
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	root.AddCommand(newPreviewCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
