package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/backend"
	"github.com/roach88/expkit/internal/config"
	"github.com/roach88/expkit/internal/job"
	"github.com/roach88/expkit/internal/journal"
	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/tooldef"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Tool    string
	ToolID  string
	Dataset string
	Inputs  []string
	Where   []string
	Origins []string
	Params  []string
	DryRun  bool
}

// RunView is the serialized outcome of a job.
type RunView struct {
	JobID    string     `json:"job_id"`
	Mode     job.Mode   `json:"mode"`
	Status   job.Status `json:"status"`
	Dataset  string     `json:"dataset"`
	Run      string     `json:"run"`
	Tuples   int        `json:"tuples"`
	Outputs  []DataView `json:"outputs"`
	Failures []string   `json:"failures,omitempty"`
	Commands [][]string `json:"commands,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <experiment>",
		Short: "Run a tool over the records of an experiment",
		Long: `Run a tool described in a CUE file over the records selected for each of
its data inputs.

In sequential mode the tool runs once per tuple: the i-th records of every
input. A failing tuple does not stop the job; the command exits with code 1
if any tuple failed. In merge mode the tool runs once over per-input lists
of every matched payload.

Outputs are recorded as processed data in the destination dataset, which
defaults to the tool name and is created on first use.`,
		Example: `  expkit run pilot --tool tools.cue --tool-id denoise --input -i=data --where -i='strain=wt' --param sigma=2
  expkit run pilot --tool tools.cue --tool-id ttest --input a=measure --input b=measure \
      --where a='strain=wt' --where b='strain=dko' --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Tool, "tool", "", "CUE file describing the tool (required)")
	cmd.Flags().StringVar(&opts.ToolID, "tool-id", "", "tool identifier within the file (default: the only tool)")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "destination dataset (default: tool name)")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "data input as name=dataset (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "query of an input as name=query (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Origins, "origin-output", nil, "origin output filter of an input as name=output (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "parameter as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "record the job without invoking the tool")
	cmd.MarkFlagRequired("tool")

	return cmd
}

func runRun(opts *RunOptions, args []string, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, cancelling job", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	tool, err := tooldef.Load(opts.Tool, opts.ToolID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load tool", err)
	}
	inputs, err := opts.inputSpecs()
	if err != nil {
		return err
	}
	params, err := parseParameters(opts.Params)
	if err != nil {
		return err
	}

	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(opts.Config.Journal.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	jrnl = jrnl.WithLogger(opts.Logger)
	defer jrnl.Close()

	var dry *backend.DryRun
	var be job.Backend
	if opts.DryRun || opts.Config.Backend.Driver == config.DriverDryRun {
		dry = backend.NewDryRun(opts.Logger)
		be = dry
	} else {
		be = backend.NewLocal(opts.Config.Backend.Env, opts.Logger)
	}

	reg := prometheus.NewRegistry()
	exec := job.New(job.Config{
		Store:    st,
		Backend:  be,
		Observer: job.Observers{job.LogObserver{Logger: opts.Logger}, jrnl.Observer()},
		Journal:  jrnl,
		Metrics:  job.NewMetrics(reg),
		Env:      opts.Config.Backend.Env,
		Logger:   opts.Logger,
	})

	report, runErr := exec.Run(ctx, job.Request{
		Experiment: exp,
		Tool:       tool,
		Dataset:    opts.Dataset,
		Inputs:     inputs,
		Parameters: params,
		Author:     opts.Config.Author(),
	})

	if path := opts.Config.Metrics.Textfile; path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			opts.Logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if runErr != nil && report == nil {
		return commandError(runErr)
	}

	view := runView(report, dry)
	if runErr != nil {
		view.Status = job.StatusFailed
	}
	if err := opts.emit(cmd, view, view.writeText); err != nil {
		return err
	}

	switch {
	case runErr != nil:
		return WrapExitError(ExitFailure, "job failed", runErr)
	case view.Status != job.StatusOK:
		return NewExitError(ExitFailure, fmt.Sprintf("job %s: %d of %d tuples failed", report.JobID, len(report.Failures), report.Tuples))
	}
	return nil
}

func runView(report *job.Report, dry *backend.DryRun) RunView {
	v := RunView{
		JobID:   report.JobID,
		Mode:    report.Mode,
		Status:  report.Status(),
		Tuples:  report.Tuples,
		Outputs: make([]DataView, 0, len(report.Outputs)),
	}
	if report.Dataset != nil {
		v.Dataset = report.Dataset.Name
	}
	if report.Run != nil {
		v.Run = report.Run.Location
	}
	for _, pd := range report.Outputs {
		v.Outputs = append(v.Outputs, dataView(pd))
	}
	for _, f := range report.Failures {
		v.Failures = append(v.Failures, f.Error())
	}
	if dry != nil {
		v.Commands = dry.Commands()
	}
	return v
}

func (v RunView) writeText(w io.Writer) {
	fmt.Fprintf(w, "Job %s (%s): %s\n", v.JobID, v.Mode, v.Status)
	fmt.Fprintf(w, "  dataset: %s\n", v.Dataset)
	fmt.Fprintf(w, "  run:     %s\n", v.Run)
	fmt.Fprintf(w, "  tuples:  %d\n", v.Tuples)
	for _, argv := range v.Commands {
		fmt.Fprintf(w, "  would run: %s\n", strings.Join(argv, " "))
	}
	for _, o := range v.Outputs {
		fmt.Fprintf(w, "  + %s\n", o.Name)
	}
	for _, f := range v.Failures {
		fmt.Fprintf(w, "  ! %s\n", f)
	}
}

// inputSpecs joins the --input, --where and --origin-output flags by input
// name, in --input order.
func (o *RunOptions) inputSpecs() ([]job.InputSpec, error) {
	datasets, order, err := parseNamed("input", o.Inputs)
	if err != nil {
		return nil, err
	}
	queries, _, err := parseNamed("where", o.Where)
	if err != nil {
		return nil, err
	}
	origins, _, err := parseNamed("origin-output", o.Origins)
	if err != nil {
		return nil, err
	}
	for name := range queries {
		if _, ok := datasets[name]; !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--where names unknown input %q", name))
		}
	}
	for name := range origins {
		if _, ok := datasets[name]; !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--origin-output names unknown input %q", name))
		}
	}

	specs := make([]job.InputSpec, 0, len(order))
	for _, name := range order {
		specs = append(specs, job.InputSpec{
			Name:         name,
			Dataset:      datasets[name],
			Query:        queries[name],
			OriginOutput: origins[name],
		})
	}
	return specs, nil
}

// parseNamed parses name=value flag values. Names may start with dashes,
// so the split is on the first "=" after the first character.
func parseNamed(flag string, values []string) (map[string]string, []string, error) {
	out := make(map[string]string, len(values))
	var order []string
	for _, a := range values {
		i := strings.Index(a[min(1, len(a)):], "=")
		if i < 0 {
			return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s %q: want name=value", flag, a))
		}
		i += min(1, len(a))
		name, value := a[:i], a[i+1:]
		if _, dup := out[name]; dup {
			return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("duplicate --%s for %q", flag, name))
		}
		out[name] = value
		order = append(order, name)
	}
	return out, order, nil
}

func parseParameters(values []string) ([]record.Parameter, error) {
	named, order, err := parseNamed("param", values)
	if err != nil {
		return nil, err
	}
	params := make([]record.Parameter, 0, len(order))
	for _, name := range order {
		params = append(params, record.Parameter{Name: name, Value: named[name]})
	}
	return params, nil
}
