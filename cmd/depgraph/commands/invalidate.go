package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInvalidateCommand(a *app) *cobra.Command {
	var (
		keywords []string
		eval     []string
	)

	cmd := &cobra.Command{
		Use:   "invalidate <entity.attr> [args...]",
		Short: "Show which cached nodes an invalidation reaches",
		Long: `Evaluate the given attributes, invalidate one node and list every cached node
that became stale as a result: the node itself and all nodes that read it,
directly or transitively.

The node is evaluated first, together with every --eval attribute, so the
graph holds the edges the invalidation follows.`,
		Example: `  # Which cached values depend on the price of AAPL?
  depgraph invalidate AAPL.price --eval book.total`,
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

			if _, err := e.session.GetVal(entityName, attr, callArgs...); err != nil {
				return err
			}
			for _, ref := range eval {
				en, at, err := parseRef(ref)
				if err != nil {
					return err
				}
				if _, err := e.session.GetVal(en, at); err != nil {
					return err
				}
			}

			g := e.session.Graph()
			valid := map[string]bool{}
			for _, id := range g.NodeIDs() {
				if n, ok := g.Node(id); ok && n.Valid() {
					valid[id.String()] = true
				}
			}

			if err := e.session.InvalidateNode(entityName, attr, callArgs...); err != nil {
				return err
			}

			var stale []string
			for _, id := range g.NodeIDs() {
				if n, ok := g.Node(id); ok && !n.Valid() && valid[id.String()] {
					stale = append(stale, id.String())
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]any{"invalidated": stale})
			}
			for _, s := range stale {
				fmt.Fprintf(out, "✓ Invalidated %s\n", s)
			}
			fmt.Fprintf(out, "\n%d of %d cached nodes invalidated\n", len(stale), len(valid))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&keywords, "kw", nil, "keyword argument as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&eval, "eval", nil, "attributes to evaluate before invalidating")

	return cmd
}
