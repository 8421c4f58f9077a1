package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/archive"
	"github.com/roach88/expkit/internal/config"
)

// ArchiveOptions holds flags for the archive subcommands.
type ArchiveOptions struct {
	*RootOptions
	Prefix string
	Dest   string

	// NewArchiver overrides archiver construction (for testing).
	NewArchiver func(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*archive.Archiver, error)
}

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts, NewArchiver: archive.New}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy experiment trees to and from S3",
		Long: `Push an experiment tree to the configured S3 bucket, or pull one back into
the workspace. Documents reference each other by relative path, so a pulled
tree is usable as is. Payloads imported with --no-copy live outside the tree
and are not archived.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Prefix, "prefix", "", "key prefix (default from config)")

	push := &cobra.Command{
		Use:           "push <experiment>",
		Short:         "Upload an experiment tree",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchivePush(opts, args, cmd)
		},
	}

	pull := &cobra.Command{
		Use:           "pull <name>",
		Short:         "Download an experiment tree into the workspace",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchivePull(opts, args, cmd)
		},
	}
	pull.Flags().StringVar(&opts.Dest, "dest", "", "destination directory (default: workspace)")

	cmd.AddCommand(push, pull)
	return cmd
}

func (o *ArchiveOptions) archiver(ctx context.Context) (*archive.Archiver, error) {
	a, err := o.NewArchiver(ctx, o.Config.Archive, o.Logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure archive", err)
	}
	if o.Prefix != "" {
		a = a.WithPrefix(o.Prefix)
	}
	return a, nil
}

func runArchivePush(opts *ArchiveOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	exp, err := opts.experiment(ctx, opts.openStore(), args[0])
	if err != nil {
		return err
	}
	a, err := opts.archiver(ctx)
	if err != nil {
		return err
	}
	n, err := a.Push(ctx, exp.Dir())
	if err != nil {
		return commandError(err)
	}
	result := map[string]any{"experiment": exp.Name, "objects": n}
	return opts.emit(cmd, result, func(w io.Writer) {
		fmt.Fprintf(w, "Pushed %d objects from %s\n", n, exp.Dir())
	})
}

func runArchivePull(opts *ArchiveOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := opts.archiver(ctx)
	if err != nil {
		return err
	}
	dest := opts.Dest
	if dest == "" {
		dest = opts.Config.Workspace
	}
	dir, err := a.Pull(ctx, args[0], dest)
	if err != nil {
		return commandError(err)
	}
	result := map[string]any{"experiment": args[0], "location": dir}
	return opts.emit(cmd, result, func(w io.Writer) {
		fmt.Fprintf(w, "Pulled %s into %s\n", args[0], dir)
	})
}
