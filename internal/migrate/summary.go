package migrate

import (
	"fmt"
	"sort"

	"github.com/glueport/glueport/internal/state"
)

// PrintSummary logs the per-phase outcome table and the itemized
// warning and failure lists.
func (r *Runner) PrintSummary() {
	r.logf("")
	r.logf("=== Summary ===")
	r.logf(fmt.Sprintf("%-22s %10s %10s %10s", "phase", "succeeded", "failed", "skipped"))
	for _, phase := range state.PhaseOrder {
		r.logf(fmt.Sprintf("%-22s %10d %10d %10d",
			phase, r.st.CompletedCount(phase), r.st.FailedCount(phase), r.skipped[phase]))
	}

	warnings := r.st.Warnings()
	if len(warnings) > 0 {
		r.logf("")
		r.logf(fmt.Sprintf("Warnings (%d):", len(warnings)))
		for _, w := range warnings {
			r.logf("  - " + w)
		}
	}

	if r.st.TotalFailed() > 0 {
		r.logf("")
		r.logf(fmt.Sprintf("Failures (%d):", r.st.TotalFailed()))
		for _, phase := range state.PhaseOrder {
			errs := r.st.FailedErrors(phase)
			if len(errs) == 0 {
				continue
			}
			ids := make([]string, 0, len(errs))
			for id := range errs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				r.logf(fmt.Sprintf("  - %s %s: %s", phase, id, errs[id]))
			}
		}
		r.logf("Re-run with --clear-failures to retry failed entities.")
	}
}
