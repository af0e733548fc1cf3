package commands

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/telemetry"
	"github.com/ledgerline/depgraph/pkg/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <entity.attr>...",
		Short: "Re-evaluate attributes as sources change",
		Long: `Watch the model script, policy files and entity sources, and print the given
attributes whenever a change alters them.

Entity changes are imported into the database and synchronized into the
running graph: only cached values that depended on a changed entity are
recomputed. A model change rebuilds the graph; a policy change reloads the
policies. Changes arriving in quick succession are handled together.

With --metrics, Prometheus metrics are served while watching.`,
		Example: `  depgraph watch book.total AAPL.value --metrics`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			refs := make([][2]string, len(args))
			for i, ref := range args {
				en, at, err := parseRef(ref)
				if err != nil {
					return err
				}
				refs[i] = [2]string{en, at}
			}

			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeInto(&err, e.Close)

			a.tel.StartMetricsServer()

			if len(a.cfg.Entities) > 0 {
				if err := a.syncEntities(ctx, e); err != nil {
					return err
				}
			}

			w := &watchLoop{a: a, env: e, refs: args, parsed: refs, out: cmd.OutOrStdout(), last: map[string]any{}}
			w.report(ctx)

			fw, err := watch.NewFileWatcher(watch.Sources{
				Model:    a.cfg.Model,
				Policies: a.cfg.Policies,
				Entities: a.cfg.Entities,
			}, a.logger())
			if err != nil {
				return err
			}
			if err := fw.Start(ctx); err != nil {
				return err
			}

			debouncer := watch.NewDebouncer(fw.Events(), a.cfg.Debounce, 10*a.cfg.Debounce)
			debouncer.Start(ctx)

			logger := a.logger()
			logger.Info().Strs("attributes", args).Msg("Watching for changes")
			for ev := range debouncer.Output() {
				w.handle(ctx, ev)
			}
			logger.Info().Msg("Watch stopped")
			return nil
		},
	}

	return cmd
}

// syncEntities imports the configured sources and brings the live arena in
// line with the database, dropping cached values of every changed entity.
func (a *app) syncEntities(ctx context.Context, e *env) error {
	if _, err := a.importEntities(ctx, e.store, e.registry, a.cfg.Entities, true); err != nil {
		return err
	}
	report, err := e.store.Sync(ctx, e.arena, e.session.Root())
	if err != nil {
		return err
	}
	logger := a.logger()
	publish := func(names []string, action string) {
		for _, name := range names {
			if err := a.tel.Events.PublishEntitySynced(name, action); err != nil {
				logger.Debug().Err(err).Msg("Failed to publish sync event")
			}
		}
	}
	publish(report.Created, "created")
	publish(report.Updated, "updated")
	publish(report.Deleted, "deleted")
	a.tel.Metrics.SetEntityCount(e.arena.Len())
	return nil
}

type watchLoop struct {
	a      *app
	env    *env
	refs   []string
	parsed [][2]string
	out    io.Writer
	last   map[string]any
}

func (w *watchLoop) handle(ctx context.Context, ev watch.ChangeEvent) {
	logger := w.a.logger().With().
		Str("type", ev.Type.String()).
		Strs("paths", ev.Paths).
		Logger()
	logger.Info().Msg("Change detected")

	var err error
	switch ev.Type {
	case watch.ChangeTypeModel:
		err = w.a.reloadModel(ctx, w.env)
	case watch.ChangeTypePolicy:
		err = w.env.policies.LoadPolicies(ctx, w.a.cfg.Policies)
	case watch.ChangeTypeEntities:
		err = w.a.syncEntities(ctx, w.env)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to apply change")
		return
	}
	w.report(ctx)
	if err := w.a.tel.Tracer.ForceFlush(ctx); err != nil {
		logger.Debug().Err(err).Msg("Failed to flush spans")
	}
}

// report prints every watched attribute whose value differs from the last
// report. Errors are printed in place of values.
func (w *watchLoop) report(ctx context.Context) {
	for i, ref := range w.refs {
		var current any
		_, span := w.a.tel.Tracer.StartNodeSpan(ctx, "get", w.parsed[i][0], w.parsed[i][1])
		v, err := w.env.session.GetVal(w.parsed[i][0], w.parsed[i][1])
		if err != nil {
			telemetry.RecordError(span, err)
			current = fmt.Sprintf("error: %v", err)
		} else {
			telemetry.RecordSuccess(span)
			current = v
		}
		span.End()

		prev, seen := w.last[ref]
		if seen && reflect.DeepEqual(prev, current) {
			continue
		}
		w.last[ref] = current
		if w.a.jsonOutput {
			_ = writeJSON(w.out, map[string]any{"node": ref, "value": current})
			continue
		}
		if seen {
			fmt.Fprintf(w.out, "%s = %v (was %v)\n", ref, current, prev)
		} else {
			fmt.Fprintf(w.out, "%s = %v\n", ref, current)
		}
	}
	w.a.tel.Metrics.SetGraphSize(w.env.session.Root().Len())
}
