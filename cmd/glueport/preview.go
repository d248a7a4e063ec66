package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glueport/glueport/internal/migrate"
	"github.com/glueport/glueport/internal/platform"
)

type previewOptions struct {
	exportPath string
	apiURL     string
	token      string
	output     string
}

func newPreviewCmd() *cobra.Command {
	var opts previewOptions

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Parse an export, match it against the destination, and write a plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(opts)
		},
	}

	cmd.Flags().StringVar(&opts.exportPath, "export-path", "", "Path to the IT Glue export directory (required)")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "Destination API base URL (required)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Destination API token (required)")
	cmd.Flags().StringVar(&opts.output, "output", "plan.yaml", "Plan file to write")
	_ = cmd.MarkFlagRequired("export-path")
	_ = cmd.MarkFlagRequired("api-url")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runPreview(opts previewOptions) error {
	client := platform.NewClient(opts.apiURL, opts.token)
	if err := client.Ping(); err != nil {
		return fmt.Errorf("destination connection failed: %w", err)
	}

	plan, _, err := migrate.BuildPlan(opts.exportPath, client, func(line string) {
		fmt.Println(line)
	})
	if err != nil {
		return err
	}
	plan.APIURL = opts.apiURL

	if err := plan.Save(opts.output); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Plan written to %s (%d warnings)\n", opts.output, len(plan.Warnings))
	for _, w := range plan.Warnings {
		fmt.Println("  - " + w)
	}
	return nil
}
