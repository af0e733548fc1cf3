package commands

import (
	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/telemetry"
)

func newGetCommand(a *app) *cobra.Command {
	var keywords []string

	cmd := &cobra.Command{
		Use:   "get <entity.attr> [args...]",
		Short: "Evaluate an attribute",
		Long: `Evaluate an attribute of a stored entity.

Arguments of callable attributes are given positionally, keyword arguments of
subgraph attributes with --kw. Values are parsed as JSON where possible and
taken as strings otherwise.`,
		Example: `  # Read a property
  depgraph get AAPL.value

  # Call a callable attribute
  depgraph get AAPL.fib 20

  # Override a subgraph default
  depgraph get AAPL.scaled --kw factor=3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			entityName, attr, err := parseRef(args[0])
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(args[1:], keywords)
			if err != nil {
				return err
			}

			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeInto(&err, e.Close)

			op := telemetry.StartOperation(cmd.Context(), "node.get",
				telemetry.AttrEntity.String(entityName), telemetry.AttrAttribute.String(attr))
			value, err := e.session.GetVal(entityName, attr, callArgs...)
			op.End(err)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				id, _ := nodeID(entityName, attr, callArgs)
				return writeJSON(cmd.OutOrStdout(), map[string]any{"node": id.String(), "value": value})
			}
			return printValue(cmd.OutOrStdout(), value, false)
		},
	}

	cmd.Flags().StringArrayVar(&keywords, "kw", nil, "keyword argument as key=value (repeatable)")

	return cmd
}
