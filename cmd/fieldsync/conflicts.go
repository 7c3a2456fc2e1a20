package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
)

func newConflictsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "conflicts [entity]",
		Short: "Show local edits the server copy overwrote",
		Long: `Show the conflict log: local pending edits that a sync replaced with the
server's copy. The server always wins; the log lets you redo lost edits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			entity := ""
			if len(args) == 1 {
				if _, err := a.handle(args[0]); err != nil {
					return err
				}
				entity = args[0]
			}
			logs, err := db.NewConflictLogStore(a.db.DB).ListConflictLogs(cmd.Context(), entity, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.json {
				printJSON(out, logs)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DETECTED\tENTITY\tID\tLOCAL ID\tLOCAL STATUS\tRESOLUTION")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", l.DetectedAtTime().Format(time.RFC3339),
					l.Entity, l.RecordID, l.LocalID, l.LocalStatus, l.Resolution)
			}
			tw.Flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	return cmd
}
