package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rcliao/ctxrt/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show snapshot counts per run and database size",
		Long: "Report how many snapshots, captured contexts and remembered entries the " +
			"database holds, and break active snapshots down by run id with the number " +
			"of distinct labels in each run.",
		Run: runStats,
	}

	cmd.Flags().Bool("table", false, "Render the per-run breakdown as a table")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	asTable, _ := cmd.Flags().GetBool("table")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), getDBPath())
	if err != nil {
		exitErr("stats", err)
	}

	if asTable {
		out, err := statsTable(stats)
		if err != nil {
			exitErr("render", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func statsTable(st *store.Stats) (string, error) {
	data := pterm.TableData{{"run", "snapshots", "labels"}}
	for _, r := range st.Runs {
		data = append(data, []string{r.RunID, strconv.Itoa(r.Snapshots), strconv.Itoa(r.Labels)})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", err
	}
	summary := fmt.Sprintf("%s: %d snapshots (%d active), %d contexts, %d entries, %d bytes\n",
		st.DBPath, st.TotalSnapshots, st.ActiveSnapshots, st.TotalContexts, st.TotalEntries, st.DBSizeBytes)
	return summary + table + "\n", nil
}
