// Package cli implements the tableview command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/service"
	"github.com/devrev/tableview/internal/validation"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	Table       string
	BasePath    string
	Backend     string
	DSN         string
	Compression string

	// Logger replaces the logger built from Verbose when set
	Logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var validBackends = []string{config.BackendDirectory, config.BackendSQLite, config.BackendPostgres}

// NewRootCommand creates the root command for the tableview CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command bound to opts.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tableview",
		Short: "File-system view of a timeline-managed table",
		Long: `Build, sync and query the file-system view of a table whose files are
tracked by an instant timeline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !slices.Contains(validBackends, opts.Backend) {
				return fmt.Errorf("invalid backend %q: must be one of %v", opts.Backend, validBackends)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Table, "table", "table", "table name")
	flags.StringVar(&opts.BasePath, "base-path", "", "table base path")
	flags.StringVar(&opts.Backend, "backend", config.BackendDirectory, "timeline backend (directory|sqlite|postgres)")
	flags.StringVar(&opts.DSN, "dsn", "", "timeline database DSN for sqlite or postgres")
	flags.StringVar(&opts.Compression, "compression", "none", "timeline details compression (none|zstd|snappy|lz4)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSlicesCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (o *RootOptions) logger() (*zap.Logger, error) {
	if o.Logger != nil {
		return o.Logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if o.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// tableConfig builds the single-table configuration described by the flags
func (o *RootOptions) tableConfig(viewKind string) (config.TableConfig, error) {
	if o.BasePath == "" {
		return config.TableConfig{}, fmt.Errorf("--base-path is required")
	}
	if err := validation.NewValidator().ValidateTableName(o.Table); err != nil {
		return config.TableConfig{}, err
	}
	tc := config.TableConfig{
		Name:     o.Table,
		BasePath: o.BasePath,
		View:     viewKind,
		Timeline: config.TimelineConfig{
			Backend:     o.Backend,
			DSN:         o.DSN,
			Compression: o.Compression,
		},
	}
	if o.Backend == config.BackendPostgres {
		if o.DSN == "" {
			return config.TableConfig{}, fmt.Errorf("--dsn is required for the postgres backend")
		}
		tc.Timeline.PGTable = "timeline_" + o.Table
	}
	return tc, nil
}

// openTable opens the table named by the flags; the caller closes it
func (o *RootOptions) openTable(ctx context.Context, viewKind string) (*service.OpenedTable, *zap.Logger, error) {
	return o.openTableWith(ctx, viewKind, service.OpenOptions{})
}

func (o *RootOptions) openTableWith(ctx context.Context, viewKind string, openOpts service.OpenOptions) (*service.OpenedTable, *zap.Logger, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	tc, err := o.tableConfig(viewKind)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid table flags", err)
	}
	opened, err := service.OpenTable(ctx, tc, openOpts, logger)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open table", err)
	}
	return opened, logger, nil
}

// buildLogger creates the service logger from the logging section
func buildLogger(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
