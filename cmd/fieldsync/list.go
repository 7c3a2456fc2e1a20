package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/repository"
)

type listOptions struct {
	status         string
	from           string
	to             string
	text           string
	limit          int
	includeDeleted bool
	refresh        bool
}

func newListCmd(root *rootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List records, cache first",
		Long: `List the records of one entity. The local cache answers first; the server
is asked when the cache is empty, stale or --refresh is given.

Dates are YYYY-MM-DD or unix milliseconds.

Examples:
  fieldsync list tasks --status pending
  fieldsync list checkpoints --from 2026-01-01 --to 2026-01-31 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.status, "status", "", "Filter by business status")
	cmd.Flags().StringVar(&opts.from, "from", "", "Earliest date (inclusive)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Latest date (inclusive)")
	cmd.Flags().StringVarP(&opts.text, "query", "q", "", "Substring to search for")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of records")
	cmd.Flags().BoolVar(&opts.includeDeleted, "include-deleted", false, "Include records pending deletion")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Ask the server even when the cache is fresh")
	return cmd
}

func runList(cmd *cobra.Command, root *rootOptions, opts *listOptions, entity string) error {
	f, err := opts.filter()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), root, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.handle(entity)
	if err != nil {
		return err
	}
	snap, err := h.Browse(cmd.Context(), f, opts.refresh)
	if err != nil {
		return err
	}
	printSnapshot(cmd, root, snap)
	return nil
}

func (o *listOptions) filter() (db.Filter, error) {
	from, err := parseDate(o.from, false)
	if err != nil {
		return db.Filter{}, fmt.Errorf("--from: %w", err)
	}
	to, err := parseDate(o.to, true)
	if err != nil {
		return db.Filter{}, fmt.Errorf("--to: %w", err)
	}
	return db.Filter{
		Status:         o.status,
		From:           from,
		To:             to,
		Text:           o.text,
		IncludeDeleted: o.includeDeleted,
		Limit:          o.limit,
	}, nil
}

// parseDate reads YYYY-MM-DD (local time) or unix millis. endOfDay moves a calendar
// date to its last millisecond.
func parseDate(s string, endOfDay bool) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q", s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Millisecond)
	}
	return t.UnixMilli(), nil
}

func newGetCmd(root *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Show one record by server id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[1])
			}
			a, err := openApp(cmd.Context(), root, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.handle(args[0])
			if err != nil {
				return err
			}
			snap, err := h.Lookup(cmd.Context(), id, refresh)
			if err != nil {
				return err
			}
			if len(snap.Records) == 0 && snap.Message == "" {
				return fmt.Errorf("%s %d not found", args[0], id)
			}
			printSnapshot(cmd, root, snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ask the server even when cached")
	return cmd
}

func printSnapshot(cmd *cobra.Command, root *rootOptions, snap repository.Snapshot) {
	out := cmd.OutOrStdout()
	if root.json {
		printJSON(out, snap)
		return
	}
	printRecords(out, snap.Records)
	if snap.Message != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: showing cached data: %s\n", snap.Message)
	}
}

// printRecords writes the sync metadata of each record as a table.
func printRecords(out io.Writer, recs []any) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOCAL ID\tSYNC\tSTATUS\tSUMMARY")
	for _, r := range recs {
		rec, ok := r.(models.Record)
		if !ok {
			continue
		}
		m, idx := rec.Meta(), rec.Indexed()
		id := "-"
		if m.ID > 0 {
			id = strconv.FormatInt(m.ID, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, m.LocalID, m.SyncStatus, idx.Status, truncate(idx.Text, 48))
	}
	tw.Flush()
	fmt.Fprintf(out, "%d record(s)\n", len(recs))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
