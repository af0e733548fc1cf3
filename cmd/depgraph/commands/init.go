package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfig = `# depgraph configuration
# Every key can also be set with a DEPGRAPH_ environment variable or a flag.

db = %q

# Starlark script declaring classes and attributes.
model = "model.star"

# CUE files or directories holding entities.
entities = ["entities"]

# Rego policy files or directories.
policy = []

# Attributes that cannot be set, as Class.attr or attr.
protected = []

log-level = "info"
log-format = "console"
`

func newInitCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a depgraph workspace",
		Long: `Initialize a workspace: create the SQLite database, apply migrations and
write a starter configuration file.

An existing configuration file is kept unless --force is given.`,
		Example: `  # Initialize in the current directory
  depgraph init

  # Use another database
  depgraph init --db /var/lib/depgraph/models.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			logger := a.logger()
			logger.Info().
				Str("db", a.cfg.Database).
				Str("config", a.configPath).
				Msg("Initializing workspace")

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", a.cfg.Database)

			if _, err := os.Stat(a.configPath); err == nil && !force {
				fmt.Fprintf(out, "✓ Kept existing config file: %s\n", a.configPath)
				return nil
			}
			content := fmt.Sprintf(defaultConfig, a.cfg.Database)
			if err := os.WriteFile(a.configPath, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", a.configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")

	return cmd
}
