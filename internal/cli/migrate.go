package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmodel/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply goose SQL migrations",
		Long: `Apply every pending goose migration from the migrations directory.

Example:
  rowmodel migrate --db app.db --dir ./migrations`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
	cmd.Flags().String("dir", "", "migrations directory (default: migrations)")
	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if _, err := os.Stat(cfg.MigrationsDir); err != nil {
		return WrapExitError(ExitCommandError, "migrations directory not found", err)
	}

	db, err := store.Open(cfg.Database, cfg.StoreOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	fsys := os.DirFS(cfg.MigrationsDir)
	opts.Logger.Info("applying migrations", "db", cfg.Database, "dir", cfg.MigrationsDir)
	if err := store.MigrateFS(db, fsys, "."); err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}
	version, err := store.MigrationVersion(db, fsys)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read migration version", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(map[string]any{"database": cfg.Database, "version": version})
	}
	return out.Success(fmt.Sprintf("%s at migration version %d", cfg.Database, version))
}
