package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/topology"
)

func newDepsCommand(a *app) *cobra.Command {
	var (
		keywords  []string
		childAttr string
		typeName  string
		dot       bool
	)

	cmd := &cobra.Command{
		Use:   "deps <entity.attr> [args...]",
		Short: "Show what an attribute depends on",
		Long: `Evaluate an attribute and show the nodes its value was computed from.

By default the dependency tree is printed in levels, leaves first. With
--child-attr, the names of the entities whose child-attr the computation
reached are printed instead, optionally restricted to one class with --type.
With --dot, the tree is written in Graphviz DOT format.`,
		Example: `  # Levels of the book total
  depgraph deps book.total

  # Entities whose value the total read
  depgraph deps book.total --child-attr value --type Position

  # Render with Graphviz
  depgraph deps book.total --dot | dot -Tsvg > total.svg`,
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
			root, err := nodeID(entityName, attr, callArgs)
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
			out := cmd.OutOrStdout()

			if childAttr != "" {
				names, err := e.session.ChildrenSet(entityName, attr, childAttr, typeName, callArgs...)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return writeJSON(out, names)
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			topo, err := topology.FromGraph(e.session.Graph(), root)
			if err != nil {
				return err
			}
			if dot {
				return topo.WriteDOT(out)
			}

			levels, err := topo.Levels()
			if err != nil {
				return err
			}
			if a.jsonOutput {
				rendered := make([][]string, len(levels))
				for i, level := range levels {
					for _, id := range level {
						rendered[i] = append(rendered[i], id.String())
					}
				}
				return writeJSON(out, rendered)
			}
			for i, level := range levels {
				names := make([]string, len(level))
				for j, id := range level {
					names[j] = id.String()
				}
				fmt.Fprintf(out, "%d: %s\n", i, strings.Join(names, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&keywords, "kw", nil, "keyword argument as key=value (repeatable)")
	cmd.Flags().StringVar(&childAttr, "child-attr", "", "list entities whose attribute of this name was reached")
	cmd.Flags().StringVar(&typeName, "type", "", "restrict --child-attr to entities of this class")
	cmd.Flags().BoolVar(&dot, "dot", false, "write Graphviz DOT")

	return cmd
}
