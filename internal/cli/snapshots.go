package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/ctxrt/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"ls"},
		Short:   "List stored snapshots",
		Run:     runSnapshots,
	}

	cmd.Flags().String("run", "", "Filter by run id")
	cmd.Flags().StringP("label", "l", "", "Filter by label")
	cmd.Flags().IntP("limit", "n", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output snapshot ids")

	RootCmd.AddCommand(cmd)
}

func runSnapshots(cmd *cobra.Command, args []string) {
	runID, _ := cmd.Flags().GetString("run")
	label, _ := cmd.Flags().GetString("label")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snaps, err := s.List(cmd.Context(), store.ListParams{
		RunID: runID,
		Label: label,
		Limit: limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, snap := range snaps {
			fmt.Fprintln(cmd.OutOrStdout(), snap.ID)
		}
		return
	}

	if len(snaps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return
	}
	b, _ := json.MarshalIndent(snaps, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
