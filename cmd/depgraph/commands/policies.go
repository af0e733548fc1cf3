package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/graph"
	"github.com/ledgerline/depgraph/pkg/policy"
)

func newPoliciesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect write policies",
		Long: `Inspect the built-in and configured write policies, or check a write against
them without performing it.`,
	}

	cmd.AddCommand(newPoliciesListCommand(a), newPoliciesCheckCommand(a))
	return cmd
}

func newPoliciesListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.loadPolicies(cmd.Context())
			if err != nil {
				return err
			}

			policies := eng.ListPolicies()
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, policies)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tSOURCE")
			for _, p := range policies {
				source := p.Source
				if source == "" {
					source = "built-in"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, source)
			}
			return tw.Flush()
		},
	}
}

func newPoliciesCheckCommand(a *app) *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "check <entity.attr> <value>",
		Short: "Check a write against the policies",
		Long: `Evaluate every enabled policy against a write without performing it.
With --override the write is checked as a scenario override instead of a set.`,
		Example: `  depgraph policies check AAPL.price '"abc"' --numeric price`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			entityName, attr, err := parseRef(args[0])
			if err != nil {
				return err
			}

			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeInto(&err, e.Close)

			h, err := e.arena.Resolve(entityName)
			if err != nil {
				return graph.NewLookupError(fmt.Sprintf("entity %s not found", entityName), err).
					WithCode(graph.ErrCodeObjectNotFound)
			}
			ent, _ := e.arena.Entity(h)

			kind := graph.KindSettable
			if e.registry != nil {
				desc, err := e.registry.Descriptor(ent.Class, attr, e.arena.StoredAttributeNames(ent))
				if err != nil {
					return err
				}
				kind = desc.Kind()
			}

			operation := graph.OperationSet
			if override {
				operation = graph.OperationOverride
			}
			result, err := e.policies.Evaluate(ctx, &policy.Input{
				Write: &policy.WriteInput{
					Entity:    entityName,
					Class:     ent.Class,
					Attribute: attr,
					Kind:      kind.String(),
					Value:     parseValue(args[1]),
					Operation: operation,
				},
				Context: &policy.Context{Actor: a.actor, Timestamp: time.Now()},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, result)
			}
			if result.Allowed {
				fmt.Fprintf(out, "✓ %s of %s allowed\n", operation, args[0])
			} else {
				fmt.Fprintf(out, "✗ %s of %s denied\n", operation, args[0])
			}
			for _, v := range result.Violations {
				fmt.Fprintf(out, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			for _, v := range result.Warnings {
				fmt.Fprintf(out, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&override, "override", false, "check as a scenario override")

	return cmd
}
