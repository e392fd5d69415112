package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rcliao/ctxrt/internal/engine"
	"github.com/rcliao/ctxrt/internal/scope"
	"github.com/rcliao/ctxrt/internal/store"
	"github.com/rcliao/ctxrt/internal/value"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run PROGRAM",
		Short: "Run a program",
		Long: "Run a program tree (YAML or JSON) and print its result as JSON. " +
			"Use --collect to run the attention collector afterwards and --snapshot " +
			"to store the resulting context tree.",
		Args: cobra.ExactArgs(1),
		Run:  runRun,
	}

	cmd.Flags().Bool("snapshot", false, "Store a snapshot of the context tree after the run")
	cmd.Flags().StringP("label", "l", "", "Snapshot label (implies --snapshot)")
	cmd.Flags().Bool("collect", false, "Run the collector after the program finishes")
	cmd.Flags().Float64("threshold", -1, "Collector target fraction (default: memory.collect_threshold)")

	RootCmd.AddCommand(cmd)
}

type runOutput struct {
	RunID    string               `json:"run_id"`
	Result   any                  `json:"result"`
	Collect  *scope.CollectReport `json:"collect,omitempty"`
	Snapshot string               `json:"snapshot,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) {
	snapshot, _ := cmd.Flags().GetBool("snapshot")
	label, _ := cmd.Flags().GetString("label")
	collect, _ := cmd.Flags().GetBool("collect")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if label != "" {
		snapshot = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// print output goes to stderr so stdout carries only the JSON result.
	e, err := engine.New(*cfg, engine.WithOutput(os.Stderr))
	if err != nil {
		exitErr("init runtime", err)
	}

	result, err := e.RunFile(ctx, args[0])
	if err != nil {
		exitErr("run", err)
	}

	out := runOutput{RunID: e.RunID(), Result: value.ToGo(result)}
	if collect {
		var report scope.CollectReport
		if threshold >= 0 {
			report = e.CollectAt(threshold)
		} else {
			report = e.Collect()
		}
		out.Collect = &report
		if !report.Satisfied {
			fmt.Fprintln(os.Stderr, pterm.Warning.Sprintf("collector target not met: %d units used, target %.0f", report.UsedAfter, report.Target))
		}
	} else {
		e.Wait()
	}

	if snapshot {
		id, err := saveSnapshot(ctx, e, label)
		if err != nil {
			exitErr("save snapshot", err)
		}
		out.Snapshot = id
		fmt.Fprintln(os.Stderr, pterm.Success.Sprintf("snapshot %s saved", id))
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func saveSnapshot(ctx context.Context, e *engine.Engine, label string) (string, error) {
	s, err := openStore()
	if err != nil {
		return "", err
	}
	defer s.Close()

	snap, err := s.Put(ctx, store.PutParams{Snapshot: e.Snapshot(label)})
	if err != nil {
		return "", err
	}
	return snap.ID, nil
}
