package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ledgerline/depgraph/pkg/config"
	"github.com/ledgerline/depgraph/pkg/entity"
	"github.com/ledgerline/depgraph/pkg/graph"
	"github.com/ledgerline/depgraph/pkg/model"
	"github.com/ledgerline/depgraph/pkg/policy"
	"github.com/ledgerline/depgraph/pkg/stores"
	"github.com/ledgerline/depgraph/pkg/telemetry"
)

// app holds the state shared by every command of one invocation.
type app struct {
	version    string
	configPath string
	jsonOutput bool
	actor      string

	cfg *config.Config
	tel *telemetry.Telemetry
}

func (a *app) logger() zerolog.Logger {
	if a.tel == nil {
		return zerolog.Nop()
	}
	return a.tel.Logger.Zerolog()
}

// openStore opens the database and applies pending migrations.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(a.cfg.Store(), a.logger())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// loadRegistry executes the model script. Without one, every stored
// attribute reads as a plain settable.
func (a *app) loadRegistry(ctx context.Context) (*graph.Registry, error) {
	if a.cfg.Model == "" {
		logger := a.logger()
		logger.Warn().Msg("No model configured, entities expose stored attributes only")
		return nil, nil
	}
	loader := model.NewStarlarkLoader(
		model.WithTimeout(a.cfg.Timeout),
		model.WithMaxSteps(a.cfg.MaxSteps),
		model.WithLoaderLogger(a.logger()),
	)
	return loader.LoadFile(ctx, a.cfg.Model)
}

// loadPolicies builds the policy engine from the built-in policies and the
// configured policy files.
func (a *app) loadPolicies(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.logger(),
		policy.WithProtected(a.cfg.Protected...),
		policy.WithNumeric(a.cfg.Numeric...),
	)
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Policies) > 0 {
		if err := eng.LoadPolicies(ctx, a.cfg.Policies); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func (a *app) newGraph(ctx context.Context, arena *entity.Arena, registry *graph.Registry, eng *policy.Engine) *graph.Graph {
	return graph.New(arena, registry,
		graph.WithLogger(a.logger()),
		graph.WithObserver(a.tel.Observer()),
		graph.WithWriteGuard(eng.Guard(policy.WithActor(ctx, a.actor))),
	)
}

// env is everything a command needs to evaluate nodes.
type env struct {
	store    *stores.SQLiteStore
	arena    *entity.Arena
	registry *graph.Registry
	policies *policy.Engine
	session  *graph.Session
	tel      *telemetry.Telemetry
}

// open wires the store, model, policies and graph together.
func (a *app) open(ctx context.Context) (*env, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	e, err := a.build(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

func (a *app) build(ctx context.Context, store *stores.SQLiteStore) (*env, error) {
	registry, err := a.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	arena, err := store.LoadArena(ctx)
	if err != nil {
		return nil, err
	}
	eng, err := a.loadPolicies(ctx)
	if err != nil {
		return nil, err
	}

	g := a.newGraph(ctx, arena, registry, eng)
	a.tel.Metrics.SetEntityCount(arena.Len())
	return &env{
		store:    store,
		arena:    arena,
		registry: registry,
		policies: eng,
		session:  graph.NewSession(g),
		tel:      a.tel,
	}, nil
}

// Close records the final graph size and closes the store.
func (e *env) Close() error {
	e.tel.Metrics.SetGraphSize(e.session.Root().Len())
	return e.store.Close()
}

// closeInto runs fn and joins its error into *err. Commands defer it
// with a named error result so a failed close is not lost.
func closeInto(err *error, fn func() error) {
	*err = errors.Join(*err, fn())
}

// reloadModel rebuilds the graph over a freshly loaded model. Cached values
// are discarded because every descriptor may have changed.
func (a *app) reloadModel(ctx context.Context, e *env) error {
	registry, err := a.loadRegistry(ctx)
	if err != nil {
		return err
	}
	if err := e.session.SwitchGraph(a.newGraph(ctx, e.arena, registry, e.policies)); err != nil {
		return err
	}
	e.registry = registry
	return nil
}

// recordDenied audits a write rejected by policy and publishes an event.
// Other errors are left alone.
func (a *app) recordDenied(ctx context.Context, e *env, target string, value any, err error) {
	var ge *graph.GraphError
	if !errors.As(err, &ge) || ge.Code != graph.ErrCodeWriteDenied {
		return
	}
	logger := a.logger()
	raw, _ := json.Marshal(map[string]any{"reason": ge.Message, "value": value})
	details := string(raw)
	if auditErr := e.store.CreateAuditEntry(ctx, &stores.AuditEntry{
		Action:   stores.AuditActionDenied,
		Actor:    a.actor,
		TargetID: &target,
		Details:  &details,
	}); auditErr != nil {
		logger.Error().Err(auditErr).Msg("Failed to audit denied write")
	}
	if pubErr := a.tel.Events.PublishWriteDenied(target, ge.Message); pubErr != nil {
		logger.Debug().Err(pubErr).Msg("Failed to publish write denial")
	}
}
