package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/model"
	"github.com/ledgerline/depgraph/pkg/telemetry"
)

func newScenarioCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <file>",
		Short: "Evaluate a what-if scenario",
		Long: `Evaluate a scenario file: every read is computed on the stored data and
again with the scenario's overrides in place. Overrides never reach the
database and policies treat them separately from writes.

A scenario file is YAML:

  name: price-crash
  overrides:
    - {entity: AAPL, attr: price, value: 5.0}
  reads:
    - {entity: AAPL, attr: value}
    - {entity: AAPL, attr: scaled, kw: {factor: 3}}
    - {entity: AAPL, attr: fib, args: [10]}`,
		Example: `  depgraph scenario scenarios/price-crash.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sc, err := model.LoadScenario(args[0])
			if err != nil {
				return err
			}

			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeInto(&err, e.Close)

			_, span := a.tel.Tracer.StartScenarioSpan(cmd.Context(), sc.Name, len(sc.Overrides))
			results, err := sc.Evaluate(e.session)
			if err != nil {
				telemetry.RecordError(span, err)
				span.End()
				a.tel.Metrics.RecordError(err)
				return fmt.Errorf("scenario %s failed: %w", sc.Name, err)
			}
			telemetry.RecordSuccess(span)
			span.End()

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]any{"scenario": sc.Name, "results": results})
			}

			fmt.Fprintf(out, "Scenario: %s\n", sc.Name)
			if sc.Description != "" {
				fmt.Fprintf(out, "%s\n", sc.Description)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE\tBASE\tSCENARIO\t")
			for _, r := range results {
				mark := ""
				if r.Changed {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%v\t%v\t%s\n", resultLabel(r), r.Base, r.Scenario, mark)
			}
			return tw.Flush()
		},
	}

	return cmd
}

func resultLabel(r model.Result) string {
	label := r.Entity + "." + r.Attr
	if len(r.Args) > 0 {
		label += fmt.Sprint(r.Args)
	}
	return label
}
