package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCommand(a *app) *cobra.Command {
	var (
		action string
		target string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		Long: `Show recorded imports, writes, deletions and denied writes, newest first.

Actions: entity.imported, entity.set, entity.deleted, write.denied.`,
		Example: `  # Everything that happened to AAPL
  depgraph audit --target AAPL

  # Recent policy denials
  depgraph audit --action write.denied --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeInto(&err, store.Close)

			var actionFilter, targetFilter *string
			if action != "" {
				actionFilter = &action
			}
			if target != "" {
				targetFilter = &target
			}
			entries, err := store.ListAuditEntries(ctx, actionFilter, targetFilter, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit entries")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tTARGET\tDETAILS")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					entry.Timestamp.Format(time.RFC3339),
					entry.Action,
					entry.Actor,
					deref(entry.TargetID),
					deref(entry.Details),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only show entries with this action")
	cmd.Flags().StringVar(&target, "target", "", "only show entries for this entity")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")

	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
