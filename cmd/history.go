// -- cmd/history.go --
package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/undefined996/page-agent/internal/llmutil"
	"github.com/undefined996/page-agent/internal/observability"
	"github.com/undefined996/page-agent/internal/store"
)

// newHistoryCmd lists stored runs, or the steps of one run.
func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Lists stored runs or the steps of a single run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return errors.New("run history requires store.enabled (PAGE_AGENT_STORE_ENABLED=true)")
			}

			st, pool, err := openStore(ctx, cfg.Store, observability.GetLogger())
			if err != nil {
				return err
			}
			defer pool.Close()

			if len(args) == 1 {
				steps, err := st.ListSteps(ctx, args[0])
				if err != nil {
					return err
				}
				writeSteps(cmd.OutOrStdout(), steps)
				return nil
			}

			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			writeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list.")
	return historyCmd
}

func writeRuns(w io.Writer, runs []store.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTEPS\tRESULT\tTASK")
	for _, r := range runs {
		result := "success"
		if !r.Success {
			result = "failed"
			if r.ErrorCode != "" {
				result = r.ErrorCode
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.StepCount, result, llmutil.Truncate(r.Task, 60))
	}
	tw.Flush()
}

func writeSteps(w io.Writer, steps []store.Step) {
	if len(steps) == 0 {
		fmt.Fprintln(w, "No steps recorded.")
		return
	}
	for _, st := range steps {
		fmt.Fprintf(w, "Step %d (%s, %d tokens)\n", st.Step, st.Duration.Round(time.Millisecond), st.TotalTokens)
		fmt.Fprintf(w, "  Eval: %s\n  Memory: %s\n  Next: %s\n", st.EvaluationPreviousGoal, st.Memory, st.NextGoal)
		fmt.Fprintf(w, "  Action: %s(%s)\n  Output: %s\n", st.Tool, st.Input, llmutil.Truncate(st.Output, 500))
	}
}
