package cli

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rcliao/ctxrt/internal/model"
	"github.com/rcliao/ctxrt/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a snapshot's context tree",
		Long:  "Render the context tree of a snapshot with attention scores and region usage. ID may be a unique prefix.",
		Args:  cobra.ExactArgs(1),
		Run:   runShow,
	}

	cmd.Flags().Bool("json", false, "Print the full snapshot as JSON")
	cmd.Flags().Bool("memory", false, "Include semantic memory entries in the tree")

	RootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) {
	asJSON, _ := cmd.Flags().GetBool("json")
	withMemory, _ := cmd.Flags().GetBool("memory")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snap, err := s.Get(cmd.Context(), store.GetParams{ID: args[0]})
	if err != nil {
		exitErr("show", err)
	}

	if asJSON {
		b, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return
	}

	header := fmt.Sprintf("%s  run %s", snap.ID, snap.RunID)
	if snap.Label != "" {
		header += "  [" + snap.Label + "]"
	}
	fmt.Fprintln(cmd.OutOrStdout(), pterm.Bold.Sprint(header))
	fmt.Fprintf(cmd.OutOrStdout(), "memory: %d/%d allocated, %d used, %d regions\n",
		snap.Memory.Allocated, snap.Memory.Ceiling, snap.Memory.Used, snap.Memory.Regions)
	if snap.Result != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "result: %s\n", snap.Result)
	}

	out, err := pterm.DefaultTree.WithRoot(contextTree(snap.Contexts, withMemory)).Srender()
	if err != nil {
		exitErr("render", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
}

// contextTree builds the render tree rooted at the context whose parent is -1.
func contextTree(contexts []model.ContextRecord, withMemory bool) pterm.TreeNode {
	children := map[int][]model.ContextRecord{}
	var root *model.ContextRecord
	for i := range contexts {
		c := contexts[i]
		if c.Parent < 0 {
			root = &contexts[i]
			continue
		}
		children[c.Parent] = append(children[c.Parent], c)
	}
	if root == nil {
		return pterm.TreeNode{Text: "(empty)"}
	}
	return treeNode(*root, children, withMemory)
}

func treeNode(c model.ContextRecord, children map[int][]model.ContextRecord, withMemory bool) pterm.TreeNode {
	node := pterm.TreeNode{Text: contextLine(c)}
	if withMemory {
		for _, e := range c.Memory {
			node.Children = append(node.Children, pterm.TreeNode{
				Text: fmt.Sprintf("%s = %s", e.Key, e.Value),
			})
		}
	}
	for _, child := range children[c.ID] {
		node.Children = append(node.Children, treeNode(child, children, withMemory))
	}
	return node
}

func contextLine(c model.ContextRecord) string {
	name := c.Name
	if name == "" {
		name = "(anonymous)"
	}
	line := fmt.Sprintf("#%d %s  attention=%.4f  %s %d/%d  %s",
		c.ID, name, c.Attention, c.RegionKind, c.Used, c.Capacity, c.State)
	if c.Active {
		line += "  *"
	}
	return line
}
