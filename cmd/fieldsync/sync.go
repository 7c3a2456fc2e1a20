package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/repository"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [entity...]",
		Short: "Synchronize pending changes with the server",
		Long: `Run one batch sync per entity type: send pending changes, then apply what
changed on the server. Without arguments every enabled entity is synced.

Examples:
  fieldsync sync
  fieldsync sync tasks checkpoints --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, root, args)
		},
	}
}

func runSync(cmd *cobra.Command, root *rootOptions, entities []string) error {
	a, err := openApp(cmd.Context(), root, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	handles := a.registry.Handles()
	if len(entities) > 0 {
		handles = handles[:0]
		for _, e := range entities {
			h, err := a.handle(e)
			if err != nil {
				return err
			}
			handles = append(handles, h)
		}
	}

	results := make(map[string]repository.SyncResult, len(handles))
	failed := 0
	for _, h := range handles {
		res := h.Sync(cmd.Context())
		results[h.Entity()] = res
		if !res.OK {
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if root.json {
		printJSON(out, results)
	} else {
		for _, h := range handles {
			printSyncResult(cmd, h.Entity(), results[h.Entity()])
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entities failed to sync", failed, len(handles))
	}
	return nil
}

func printSyncResult(cmd *cobra.Command, entity string, res repository.SyncResult) {
	out := cmd.OutOrStdout()
	if !res.OK {
		fmt.Fprintf(out, "%-18s FAILED  %s (%s)\n", entity, res.Message, res.Code)
		return
	}
	r := res.Result
	if r.Skipped {
		fmt.Fprintf(out, "%-18s ok      nothing pending\n", entity)
		return
	}
	fmt.Fprintf(out, "%-18s ok      sent %d, deleted %d, received +%d ~%d -%d, conflicts %d (%s)\n",
		entity, r.Uploaded, r.DeletedSent, r.Added, r.Updated, r.Deleted, r.Conflicts,
		r.Duration.Round(time.Millisecond))
}
