package cli

import (
	"github.com/spf13/cobra"
)

// NewVacuumCommand creates the vacuum command.
func NewVacuumCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Vacuum(ctx); err != nil {
				return WrapExitError(ExitFailure, "vacuum failed", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				return out.Success(map[string]any{"database": db.Path(), "vacuumed": true})
			}
			return out.Success("vacuumed " + db.Path())
		},
	}
}
