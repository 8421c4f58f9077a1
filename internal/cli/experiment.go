package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/record"
)

// ExperimentOptions holds flags for the experiment subcommands.
type ExperimentOptions struct {
	*RootOptions
	Author string
	Date   string
	Keys   []string
}

// ExperimentView is the serialized form of an experiment.
type ExperimentView struct {
	UUID     string   `json:"uuid"`
	Name     string   `json:"name"`
	Location string   `json:"location"`
	Author   string   `json:"author"`
	Date     string   `json:"date"`
	Keys     []string `json:"keys"`
	Datasets []string `json:"datasets"`
}

func experimentView(exp *record.Experiment) ExperimentView {
	v := ExperimentView{
		UUID:     exp.UUID,
		Name:     exp.Name,
		Location: exp.Location,
		Author:   exp.Author,
		Date:     exp.Date,
		Keys:     append([]string{}, exp.Keys...),
		Datasets: []string{exp.RawDataset.Name},
	}
	for _, ds := range exp.ProcessedDatasets {
		v.Datasets = append(v.Datasets, ds.Name)
	}
	return v
}

func (v ExperimentView) writeText(w io.Writer) {
	fmt.Fprintf(w, "%s (%s)\n", v.Name, v.UUID)
	fmt.Fprintf(w, "  location: %s\n", v.Location)
	fmt.Fprintf(w, "  author:   %s\n", v.Author)
	fmt.Fprintf(w, "  date:     %s\n", v.Date)
	fmt.Fprintf(w, "  keys:     %s\n", strings.Join(v.Keys, ", "))
	fmt.Fprintf(w, "  datasets: %s\n", strings.Join(v.Datasets, ", "))
}

// NewExperimentCommand creates the experiment command group.
func NewExperimentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExperimentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Create and inspect experiments",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an experiment in the workspace",
		Example: `  expkit experiment create "Cell Growth" --key strain --key temperature
  expkit experiment create pilot --author ada --date 2024-03-14`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentCreate(opts, args, cmd)
		},
	}
	create.Flags().StringVar(&opts.Author, "author", "", "experiment author (default from config)")
	create.Flags().StringVar(&opts.Date, "date", "", "experiment date, YYYY-MM-DD (default today)")
	create.Flags().StringSliceVar(&opts.Keys, "key", nil, "tag key of the experiment vocabulary (repeatable)")

	show := &cobra.Command{
		Use:           "show <experiment>",
		Short:         "Show an experiment",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentShow(opts, args, cmd)
		},
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List the experiments of the workspace",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentList(opts, cmd)
		},
	}

	key := &cobra.Command{
		Use:           "key <experiment> <key>...",
		Short:         "Add tag keys to an experiment",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentKey(opts, args, cmd)
		},
	}

	cmd.AddCommand(create, show, list, key)
	return cmd
}

func runExperimentCreate(opts *ExperimentOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := st.CreateExperiment(ctx, args[0], opts.Author, opts.Date, opts.Keys, opts.Config.Workspace)
	if err != nil {
		return commandError(err)
	}
	v := experimentView(exp)
	return opts.emit(cmd, v, func(w io.Writer) {
		fmt.Fprintf(w, "Created experiment %s\n", exp.Location)
	})
}

func runExperimentShow(opts *ExperimentOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	exp, err := opts.experiment(ctx, opts.openStore(), args[0])
	if err != nil {
		return err
	}
	v := experimentView(exp)
	return opts.emit(cmd, v, v.writeText)
}

func runExperimentList(opts *ExperimentOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	exps, err := opts.openStore().ListExperiments(ctx, opts.Config.Workspace)
	if err != nil {
		return commandError(err)
	}
	views := make([]ExperimentView, 0, len(exps))
	for _, exp := range exps {
		views = append(views, experimentView(exp))
	}
	return opts.emit(cmd, views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintf(w, "No experiments in %s\n", opts.Config.Workspace)
			return
		}
		for _, v := range views {
			fmt.Fprintf(w, "%-24s %s %s\n", v.Name, v.Date, v.Author)
		}
	})
}

func runExperimentKey(opts *ExperimentOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}
	for _, key := range args[1:] {
		if err := st.SetKey(ctx, exp, key); err != nil {
			return commandError(err)
		}
	}
	v := experimentView(exp)
	return opts.emit(cmd, v, func(w io.Writer) {
		fmt.Fprintf(w, "Keys: %s\n", strings.Join(exp.Keys, ", "))
	})
}
