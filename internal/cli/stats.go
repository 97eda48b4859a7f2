package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored run outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.close()

		st, err := app.store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "runs: %d  passes: %d (%.0f%%)  tasks: %d  configs: %d\n\n",
			st.TotalRuns, st.TotalPasses, st.OverallRate*100, st.UniqueTasks, st.UniqueConfigs)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tRUNS\tPASS\tRATE\tBEST\tAVG TURNS\tLAST RUN")
		for _, t := range st.ByTask {
			last := "-"
			if t.LastRunAt > 0 {
				last = time.Unix(t.LastRunAt, 0).Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\t%d\t%.1f\t%s\n",
				t.TaskID, t.TotalRuns, t.PassCount, t.PassRate*100, t.BestScore, t.AvgTurns, last)
		}
		return w.Flush()
	},
}
