package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/glueport/glueport/internal/export"
	"github.com/glueport/glueport/internal/migrate"
	"github.com/glueport/glueport/internal/platform"
	"github.com/glueport/glueport/internal/progress"
	"github.com/glueport/glueport/internal/state"
)

type runOptions struct {
	planPath      string
	org           string
	all           bool
	apiURL        string
	token         string
	statePath     string
	dryRun        bool
	clearFailures bool
	listen        string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a migration against a previously generated plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.org == "" && !opts.all {
				return fmt.Errorf("one of --org or --all is required")
			}
			return runMigration(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.planPath, "plan", "", "Plan file from `glueport preview` (required)")
	cmd.Flags().StringVar(&opts.org, "org", "", "Migrate a single organization (by name or source id)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Migrate every organization in the export")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "Destination API base URL (required)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Destination API token (required)")
	cmd.Flags().StringVar(&opts.statePath, "state-file", "migration-state.json", "Migration state file")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Resolve and report without creating anything")
	cmd.Flags().BoolVar(&opts.clearFailures, "clear-failures", false, "Forget recorded failures so they retry")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Serve live progress on this address (e.g. :8080)")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("api-url")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runMigration(ctx context.Context, opts runOptions) error {
	plan, err := migrate.LoadPlan(opts.planPath)
	if err != nil {
		return err
	}

	ex, err := export.ParseExport(plan.ExportPath)
	if err != nil {
		return err
	}

	st, ids, err := loadOrCreateState(opts, plan)
	if err != nil {
		return err
	}
	if opts.clearFailures {
		st.ClearAllFailures()
	}

	runlog := progress.NewRunLog()
	logf := func(line string) {
		fmt.Println(line)
		runlog.AppendLog(line)
	}
	if opts.listen != "" {
		go func() {
			if err := http.ListenAndServe(opts.listen, progress.NewRouter(runlog)); err != nil {
				fmt.Fprintf(os.Stderr, "status server: %v\n", err)
			}
		}()
		logf("Progress served on " + opts.listen)
	}

	client := platform.NewClient(opts.apiURL, opts.token)
	runner, err := migrate.NewRunner(client, ex, plan, st, ids, migrate.Options{
		DryRun:    opts.dryRun,
		OrgFilter: opts.org,
		StatePath: opts.statePath,
	}, logf, runlog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	runErr := runner.Run(ctx)
	runner.PrintSummary()
	if runErr != nil {
		runlog.Fail(runErr.Error())
		return runErr
	}
	if runner.Failed() {
		runlog.Fail("some entities failed")
		return fmt.Errorf("%d entities failed; see %s", st.TotalFailed(), opts.statePath)
	}
	runlog.Complete()
	return nil
}

// loadOrCreateState resumes from an existing state file or starts fresh.
// A state file for a different export or API is refused rather than
// silently mixed.
func loadOrCreateState(opts runOptions, plan *migrate.Plan) (*state.MigrationState, *state.IdMapper, error) {
	if _, err := os.Stat(opts.statePath); os.IsNotExist(err) {
		return state.New(plan.ExportPath, opts.apiURL), state.NewIdMapper(), nil
	}
	st, err := state.Load(opts.statePath)
	if err != nil {
		return nil, nil, err
	}
	if st.ExportPath != plan.ExportPath {
		return nil, nil, fmt.Errorf("state file %s was created for export %s, plan is for %s",
			opts.statePath, st.ExportPath, plan.ExportPath)
	}
	ids, err := state.LoadIdMapper(state.IDMapPath(opts.statePath))
	if err != nil {
		return nil, nil, err
	}
	return st, ids, nil
}
