package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/config"
	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/store"
)

// RootOptions holds global flags and the state loaded from them.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Set by the root command before any subcommand runs.
	Config *config.Config
	Logger *slog.Logger

	// NewStore overrides store construction (for testing).
	NewStore func(cfg *config.Config, logger *slog.Logger) *store.Store
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the expkit CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expkit",
		Short: "expkit - experiment records, queries and batch jobs",
		Long: `Manage experiments: raw and processed data records, the provenance
linking derived files to the tool runs that produced them, tag queries, and
batch tool execution across matched records.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(opts.Logger)

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (default $"+config.EnvConfig+")")

	cmd.AddCommand(NewExperimentCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewTagCommand(opts))
	cmd.AddCommand(NewAnnotateCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLineageCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// openStore builds the record store from the loaded configuration.
func (o *RootOptions) openStore() *store.Store {
	if o.NewStore != nil {
		return o.NewStore(o.Config, o.Logger)
	}
	return store.New(store.Config{
		Formats: o.Config.FormatRegistry(),
		Author:  o.Config.Author(),
		Logger:  o.Logger,
	})
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// emit writes data as JSON, or calls text in text mode.
func (o *RootOptions) emit(cmd *cobra.Command, data any, text func(w io.Writer)) error {
	f := o.formatter(cmd)
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// experiment resolves an experiment argument: a directory, an experiment
// document, or the name of an experiment in the workspace.
func (o *RootOptions) experiment(ctx context.Context, st *store.Store, arg string) (*record.Experiment, error) {
	path := arg
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(o.Config.Workspace, store.SanitizeName(arg))
	}
	exp, err := st.GetExperiment(ctx, store.ExperimentLocation(path))
	if err != nil {
		return nil, commandError(err)
	}
	return exp, nil
}

// commandError maps store and query errors to exit codes.
func commandError(err error) error {
	if err == nil {
		return nil
	}
	if code := record.CodeOf(err); code != "" {
		return WrapExitError(ExitCommandError, string(code), err)
	}
	return WrapExitError(ExitCommandError, "command failed", err)
}
