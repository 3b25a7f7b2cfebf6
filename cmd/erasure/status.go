package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/records"
)

func newStatusCmd() *cobra.Command {
	var (
		filter string
		input  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the task ledger",
		Long: `Prints every ledger entry, or with --input the ledger state of each
input row ("new" for rows the ledger has never seen).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if input != "" {
				return printInputStatus(cmd.OutOrStdout(), rt.app.Ledger(), input, filter)
			}
			return printLedger(cmd.OutOrStdout(), rt.app.Ledger().Entries(), filter, asJSON)
		},
	}
	cmd.Flags().StringVar(&filter, "status", "", "only show tasks with this status")
	cmd.Flags().StringVar(&input, "input", "", "report on the rows of this input CSV")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printLedger(out io.Writer, entries map[string]ledger.TrackedTask, filter string, asJSON bool) error {
	keys := make([]string, 0, len(entries))
	for key, task := range entries {
		if filter != "" && string(task.Status) != filter {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if asJSON {
		view := make(map[string]ledger.TrackedTask, len(keys))
		for _, key := range keys {
			view[key] = entries[key]
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tUPDATED")
	for _, key := range keys {
		task := entries[key]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, task.Status, task.CompletionDate.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printInputStatus(out io.Writer, l *ledger.Ledger, input, filter string) error {
	recs, err := records.Load(input)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tWEBSITE\tEMAIL\tSTATUS")
	for _, rec := range recs {
		status := "new"
		if task, ok := l.Status(rec.Website, rec.UserEmail); ok {
			status = string(task.Status)
		}
		if filter != "" && status != filter {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Index, rec.Website, rec.UserEmail, status)
	}
	return tw.Flush()
}
