package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/depgraph/pkg/config"
	"github.com/ledgerline/depgraph/pkg/telemetry"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{version: version}
	err := newRootCommand(a, commit, buildDate).ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

func newRootCommand(a *app, commit, buildDate string) *cobra.Command {
	version := a.version

	rootCmd := &cobra.Command{
		Use:   "depgraph",
		Short: "Demand-driven dependency graph for entity models",
		Long: `depgraph evaluates computed attributes of stored entities.

Classes and their attributes are declared in a Starlark model script. Entities
are imported from CUE files into a SQLite database. Values are computed on
demand, cached, and recomputed only when something they read changes.
Scenarios evaluate what-if overrides without touching stored data.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", config.FileName, "configuration file")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")
	flags.StringVar(&a.actor, "actor", "cli", "actor recorded in the audit trail")
	config.RegisterFlags(flags)

	rootCmd.AddCommand(
		newInitCommand(a),
		newImportCommand(a),
		newGetCommand(a),
		newSetCommand(a),
		newInvalidateCommand(a),
		newDepsCommand(a),
		newScenarioCommand(a),
		newAuditCommand(a),
		newPoliciesCommand(a),
		newWatchCommand(a),
	)

	return rootCmd
}

// setup loads the configuration and starts telemetry for the command.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(a.version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.cfg = cfg
	a.tel = tel
	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

func (a *app) teardown() error {
	if a.tel == nil {
		return nil
	}
	defer func() { a.tel = nil }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.tel.Shutdown(ctx)
}
