package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export snapshots as JSON",
		Long:  "Export snapshots with their full context trees as JSON. Filter by run with --run.",
		Run:   runExport,
	}

	cmd.Flags().String("run", "", "Filter by run id")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	runID, _ := cmd.Flags().GetString("run")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snaps, err := s.ExportAll(cmd.Context(), runID)
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(snaps, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
