// Package cli implements the rowmodel command-line tool.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmodel/internal/config"
)

// RootOptions holds global flags and the state PersistentPreRunE resolves
// for subcommands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"

	// Set before a subcommand runs.
	Config *config.Config
	Logger *slog.Logger

	logCloser io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rowmodel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rowmodel",
		Short: "rowmodel - SQLite model runtime tools",
		Long: `Inspect and maintain databases used through the rowmodel runtime.

Settings come from rowmodel.yaml (or --config), ROWMODEL_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg

			logger, closer, err := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to set up logging", err)
			}
			opts.Logger = logger
			opts.logCloser = closer
			if cfg.ConfigFile != "" {
				logger.Debug("config loaded", "file", cfg.ConfigFile)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.closeLog()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default: ./rowmodel.yaml)")
	pf.String("db", "", "path to SQLite database")
	pf.StringSlice("schema", nil, "model type schema files (.cue, .yaml, .json)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-file", "", "write logs to a rotating file instead of stderr")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewVacuumCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

func (o *RootOptions) closeLog() error {
	if o.logCloser == nil {
		return nil
	}
	err := o.logCloser.Close()
	o.logCloser = nil
	return err
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
