package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/graph"
	"github.com/ledgerline/depgraph/pkg/model"
	"github.com/ledgerline/depgraph/pkg/stores"
	"github.com/ledgerline/depgraph/pkg/telemetry"
)

// importReport lists entity names touched by an import.
type importReport struct {
	Saved     []string `json:"saved"`
	Unchanged []string `json:"unchanged"`
	Removed   []string `json:"removed"`
}

func newImportCommand(a *app) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "import [sources...]",
		Short: "Import entities from CUE files",
		Long: `Import entities from CUE files or directories into the database.

All sources are unified into one document before validation, so an entity may
be split across files. Entities whose content is unchanged are skipped. With
--prune, stored entities missing from the sources are deleted.

Without arguments the configured entity sources are imported.`,
		Example: `  # Import the configured sources
  depgraph import

  # Import a directory and drop everything else
  depgraph import ./entities --prune`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			sources := args
			if len(sources) == 0 {
				sources = a.cfg.Entities
			}
			if len(sources) == 0 {
				return fmt.Errorf("no entity sources given or configured")
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeInto(&err, store.Close)

			registry, err := a.loadRegistry(ctx)
			if err != nil {
				return err
			}

			report, err := a.importEntities(ctx, store, registry, sources, prune)
			if err != nil {
				var le *model.LoadError
				if errors.As(err, &le) {
					for _, issue := range le.Issues {
						fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", issue)
					}
				}
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, report)
			}
			for _, name := range report.Saved {
				fmt.Fprintf(out, "✓ Imported %s\n", name)
			}
			for _, name := range report.Removed {
				fmt.Fprintf(out, "✓ Removed %s\n", name)
			}
			fmt.Fprintf(out, "\n%d imported, %d unchanged, %d removed\n",
				len(report.Saved), len(report.Unchanged), len(report.Removed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "delete stored entities missing from the sources")

	return cmd
}

// importEntities loads sources and writes every new or changed entity to the
// store. Classes are checked against registry when a model is loaded.
func (a *app) importEntities(ctx context.Context, store *stores.SQLiteStore, registry *graph.Registry, sources []string, prune bool) (*importReport, error) {
	op := telemetry.StartOperation(ctx, "entities.import")
	report, err := a.doImport(op.Ctx, store, registry, sources, prune)
	op.End(err)
	return report, err
}

func (a *app) doImport(ctx context.Context, store *stores.SQLiteStore, registry *graph.Registry, sources []string, prune bool) (*importReport, error) {
	entities, err := model.NewEntityLoader().Load(sources...)
	if err != nil {
		return nil, err
	}

	if registry != nil {
		for _, e := range entities {
			if _, ok := registry.Class(e.Class); !ok {
				return nil, graph.NewLookupError(fmt.Sprintf("entity %s has unknown class %s", e.Name, e.Class), nil).
					WithCode(graph.ErrCodeUnknownClass)
			}
		}
	}

	report := &importReport{}
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		seen[e.Name] = struct{}{}

		rec, err := stores.RecordFromEntity(e)
		if err != nil {
			return nil, err
		}
		existing, err := store.GetEntity(ctx, e.Name)
		switch {
		case err == nil && existing.Hash == rec.Hash && existing.Class == rec.Class:
			report.Unchanged = append(report.Unchanged, e.Name)
			continue
		case err != nil && !errors.Is(err, stores.ErrNotFound):
			return nil, err
		}

		if err := store.SaveEntity(ctx, e, stores.AuditActionImported, a.actor, nil); err != nil {
			return nil, fmt.Errorf("failed to save entity %s: %w", e.Name, err)
		}
		report.Saved = append(report.Saved, e.Name)
	}

	if prune {
		stored, err := store.ListEntities(ctx, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, rec := range stored {
			if _, ok := seen[rec.Name]; ok {
				continue
			}
			if err := store.RemoveEntity(ctx, rec.Name, a.actor); err != nil {
				return nil, fmt.Errorf("failed to remove entity %s: %w", rec.Name, err)
			}
			report.Removed = append(report.Removed, rec.Name)
		}
	}

	sort.Strings(report.Removed)
	logger := a.logger()
	logger.Info().
		Int("saved", len(report.Saved)).
		Int("unchanged", len(report.Unchanged)).
		Int("removed", len(report.Removed)).
		Msg("Entities imported")
	return report, nil
}
