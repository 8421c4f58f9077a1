package cli

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Name   string
	Format string
	Author string
	Date   string
	Tags   []string
	NoCopy bool
	Filter string
	DirTag string
}

// DataView is the serialized form of a data record.
type DataView struct {
	UUID    string            `json:"uuid"`
	Name    string            `json:"name"`
	Kind    record.Kind       `json:"kind"`
	Format  string            `json:"format"`
	Payload string            `json:"payload"`
	Tags    map[string]string `json:"tags,omitempty"`
}

func dataView(rec record.DataRecord) DataView {
	meta := rec.Meta()
	v := DataView{
		UUID:    meta.UUID,
		Name:    meta.Name,
		Kind:    rec.Kind(),
		Format:  meta.Format,
		Payload: meta.PayloadURI,
	}
	if rd, ok := rec.(*record.RawData); ok {
		v.Tags = rd.Tags
	}
	return v
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <experiment> <file|dir>",
		Short: "Import raw data payloads into an experiment",
		Long: `Import a payload file, or every matching file of a directory, into the
raw dataset of an experiment. Payloads are copied into the experiment tree
unless --no-copy is given.`,
		Example: `  expkit import pilot plate1_A01.csv -t csv --tag strain=wt --tag temp=30
  expkit import pilot ./plates -t csv --filter '\.csv$' --dir-tag plate`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "data name (default: file name without extension)")
	cmd.Flags().StringVarP(&opts.Format, "data-format", "t", "", "payload format (required)")
	cmd.Flags().StringVar(&opts.Author, "author", "", "data author (default from config)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "data date, YYYY-MM-DD (default today)")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "tag as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.NoCopy, "no-copy", false, "reference payloads in place instead of copying")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "regular expression selecting files of a directory")
	cmd.Flags().StringVar(&opts.DirTag, "dir-tag", "", "tag key receiving the directory name")

	return cmd
}

func runImport(opts *ImportOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}
	if opts.Format == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("--data-format is required (one of %s)", strings.Join(st.Formats().Names(), ", ")))
	}

	info, err := os.Stat(args[1])
	if err != nil {
		return commandError(record.Errorf(record.CodeNotFound, "import", args[1], "source does not exist"))
	}

	var imported []*record.RawData
	if info.IsDir() {
		if opts.Name != "" || len(opts.Tags) > 0 {
			return NewExitError(ExitCommandError, "--name and --tag apply to single file imports")
		}
		f := opts.formatter(cmd)
		imported, err = st.ImportDir(ctx, exp, store.ImportDirRequest{
			Dir:       args[1],
			Filter:    opts.Filter,
			Author:    opts.Author,
			Format:    opts.Format,
			Date:      opts.Date,
			Copy:      !opts.NoCopy,
			DirTagKey: opts.DirTag,
			Progress: func(done, total int, name string) {
				f.VerboseLog("[%d/%d] %s", done, total, name)
			},
		})
	} else {
		tags, perr := parseAssignments(opts.Tags)
		if perr != nil {
			return perr
		}
		var rd *record.RawData
		rd, err = st.ImportRawData(ctx, exp, store.ImportRequest{
			Source: args[1],
			Name:   opts.Name,
			Author: opts.Author,
			Format: opts.Format,
			Date:   opts.Date,
			Tags:   tags,
			Copy:   !opts.NoCopy,
		})
		if rd != nil {
			imported = append(imported, rd)
		}
	}
	if err != nil {
		return commandError(err)
	}

	views := make([]DataView, 0, len(imported))
	for _, rd := range imported {
		views = append(views, dataView(rd))
	}
	return opts.emit(cmd, views, func(w io.Writer) {
		for _, v := range views {
			fmt.Fprintf(w, "Imported %s (%s)\n", v.Name, v.UUID)
		}
		if len(views) == 0 {
			fmt.Fprintln(w, "Nothing imported")
		}
	})
}

// NewTagCommand creates the tag command.
func NewTagCommand(rootOpts *RootOptions) *cobra.Command {
	opts := rootOpts
	return &cobra.Command{
		Use:   "tag <experiment> <data> <key=value>...",
		Short: "Set tags on a raw data record",
		Long: `Set one or more tags on a raw data record. <data> is the data name or the
path of its document. Keys are added to the experiment vocabulary.`,
		Example:       `  expkit tag pilot plate1_A01 strain=dko temp=37`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTag(opts, args, cmd)
		},
	}
}

func runTag(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}
	tags, err := parseAssignments(args[2:])
	if err != nil {
		return err
	}
	location := rawDataLocation(exp, args[1])
	for _, key := range slices.Sorted(maps.Keys(tags)) {
		if err := st.SetTag(ctx, exp, location, key, tags[key]); err != nil {
			return commandError(err)
		}
	}
	rd, err := st.GetRawData(ctx, location)
	if err != nil {
		return commandError(err)
	}
	v := dataView(rd)
	return opts.emit(cmd, v, func(w io.Writer) {
		fmt.Fprintf(w, "%s:", v.Name)
		for _, k := range slices.Sorted(maps.Keys(v.Tags)) {
			fmt.Fprintf(w, " %s=%s", k, v.Tags[k])
		}
		fmt.Fprintln(w)
	})
}

// AnnotateOptions holds flags for the annotate command.
type AnnotateOptions struct {
	*RootOptions
	Key       string
	Values    []string
	Separator string
	Position  int
}

// NewAnnotateCommand creates the annotate command.
func NewAnnotateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnnotateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "annotate <experiment>",
		Short: "Tag raw data in bulk from their names",
		Long: `Tag every raw data record of an experiment from its name.

With --values, a record is tagged with the first value its name contains.
With --separator, the payload file name is split and the element at
--position becomes the value.`,
		Example: `  expkit annotate pilot --key strain --values wt,dko
  expkit annotate pilot --key well --separator _ --position 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "tag key to set (required)")
	cmd.Flags().StringSliceVar(&opts.Values, "values", nil, "candidate values searched in data names")
	cmd.Flags().StringVar(&opts.Separator, "separator", "", "separator splitting payload file names")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "element index used with --separator")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagsMutuallyExclusive("values", "separator")
	cmd.MarkFlagsOneRequired("values", "separator")

	return cmd
}

func runAnnotate(opts *AnnotateOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}

	var n int
	if opts.Separator != "" {
		n, err = st.AnnotateBySeparator(ctx, exp, opts.Key, opts.Separator, opts.Position)
	} else {
		n, err = st.AnnotateFromName(ctx, exp, opts.Key, opts.Values)
	}
	if err != nil {
		return commandError(err)
	}
	result := map[string]any{"key": opts.Key, "tagged": n}
	return opts.emit(cmd, result, func(w io.Writer) {
		fmt.Fprintf(w, "Tagged %d records with %s\n", n, opts.Key)
	})
}

// rawDataLocation resolves a data argument to a raw data document path.
func rawDataLocation(exp *record.Experiment, arg string) string {
	if strings.HasSuffix(arg, store.DocSuffix) {
		if abs, err := filepath.Abs(arg); err == nil {
			return abs
		}
		return arg
	}
	return filepath.Join(filepath.Dir(exp.RawDataset.Location), store.SanitizeName(arg)+store.DocSuffix)
}

// parseAssignments parses key=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		key, value, ok := strings.Cut(a, "=")
		if !ok || key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid assignment %q: want key=value", a))
		}
		out[key] = value
	}
	return out, nil
}
