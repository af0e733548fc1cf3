package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/stores"
	"github.com/ledgerline/depgraph/pkg/telemetry"
)

func newSetCommand(a *app) *cobra.Command {
	var show []string

	cmd := &cobra.Command{
		Use:   "set <entity.attr> <value>",
		Short: "Set a settable attribute and persist it",
		Long: `Set a settable attribute. The value is written through to the entity and
saved to the database with an audit entry. Policies are checked first; a
denied write is audited and nothing changes.

Use --show to print dependent attributes after the write.`,
		Example: `  # Set the quantity of a position
  depgraph set AAPL.quantity 4 --show AAPL.value`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			entityName, attr, err := parseRef(args[0])
			if err != nil {
				return err
			}
			value := parseValue(args[1])

			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeInto(&err, e.Close)

			op := telemetry.StartOperation(ctx, "node.set",
				telemetry.AttrEntity.String(entityName), telemetry.AttrAttribute.String(attr))
			err = e.session.SetVal(entityName, attr, value)
			op.End(err)
			if err != nil {
				a.recordDenied(ctx, e, args[0], value, err)
				return err
			}

			h, _ := e.arena.Lookup(entityName)
			ent, _ := e.arena.Get(h)
			if err := e.store.SaveEntity(ctx, ent, stores.AuditActionSet, a.actor, map[string]any{
				"attribute": attr,
				"value":     value,
			}); err != nil {
				return fmt.Errorf("failed to persist %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			results := map[string]any{args[0]: value}
			if !a.jsonOutput {
				fmt.Fprintf(out, "✓ %s = %v\n", args[0], value)
			}
			for _, ref := range show {
				en, at, err := parseRef(ref)
				if err != nil {
					return err
				}
				v, err := e.session.GetVal(en, at)
				if err != nil {
					return err
				}
				results[ref] = v
				if !a.jsonOutput {
					fmt.Fprintf(out, "  %s = %v\n", ref, v)
				}
			}
			if a.jsonOutput {
				return writeJSON(out, results)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&show, "show", nil, "attributes to evaluate after the write")

	return cmd
}
