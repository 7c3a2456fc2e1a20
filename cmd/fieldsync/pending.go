package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPendingCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending [entity]",
		Short: "Show changes waiting to be synced",
		Long: `Show the number of pending changes per entity, or the pending records of one
entity.

Examples:
  fieldsync pending
  fieldsync pending tasks --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd, root, args)
		},
	}
}

func runPending(cmd *cobra.Command, root *rootOptions, args []string) error {
	a, err := openApp(cmd.Context(), root, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		h, err := a.handle(args[0])
		if err != nil {
			return err
		}
		recs, err := h.PendingRecords(cmd.Context())
		if err != nil {
			return err
		}
		if root.json {
			printJSON(out, recs)
			return nil
		}
		printRecords(out, recs)
		return nil
	}

	counts, err := a.registry.PendingCounts(cmd.Context())
	if err != nil {
		return err
	}
	if root.json {
		printJSON(out, counts)
		return nil
	}
	total := 0
	for _, h := range a.registry.Handles() {
		n := counts[h.Entity()]
		total += n
		fmt.Fprintf(out, "%-18s %d\n", h.Entity(), n)
	}
	fmt.Fprintf(out, "%-18s %d\n", "total", total)
	return nil
}
