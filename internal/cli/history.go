package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Experiment string
}

// JobView is the serialized form of a journaled job.
type JobView struct {
	ID         string      `json:"id"`
	Experiment string      `json:"experiment"`
	Tool       string      `json:"tool"`
	Mode       string      `json:"mode"`
	Dataset    string      `json:"dataset"`
	Status     string      `json:"status"`
	Started    int64       `json:"started_seq"`
	Finished   int64       `json:"finished_seq,omitempty"`
	Tuples     []TupleView `json:"tuples,omitempty"`
	Events     []EventView `json:"events,omitempty"`
}

// TupleView is the serialized outcome of one tuple.
type TupleView struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// EventView is one serialized job notification.
type EventView struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Percent int    `json:"percent,omitempty"`
	Message string `json:"message"`
}

func jobView(j journal.JobRecord) JobView {
	return JobView{
		ID:         j.ID,
		Experiment: j.Experiment,
		Tool:       j.Tool,
		Mode:       string(j.Mode),
		Dataset:    j.Dataset,
		Status:     string(j.Status),
		Started:    j.StartedSeq,
		Finished:   j.FinishedSeq,
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "Show journaled jobs",
		Long: `Without arguments, list the jobs recorded in the journal in start order.
With a job id, show that job with its tuple outcomes and notifications.`,
		Example: `  expkit history --experiment pilot
  expkit history 5d0c1f0e-8c1e-4a57-9a1f-3f1c2b7d9e10`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Experiment, "experiment", "", "only list jobs of this experiment")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	jrnl, err := journal.Open(opts.Config.Journal.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	jrnl = jrnl.WithLogger(opts.Logger)
	defer jrnl.Close()

	if len(args) == 1 {
		return showJob(opts, jrnl, args[0], cmd)
	}

	experiment := ""
	if opts.Experiment != "" {
		exp, err := opts.experiment(ctx, opts.openStore(), opts.Experiment)
		if err != nil {
			return err
		}
		experiment = exp.Location
	}
	jobs, err := jrnl.ListJobs(ctx, experiment)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list jobs", err)
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView(j))
	}
	return opts.emit(cmd, views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No jobs recorded")
			return
		}
		for _, v := range views {
			fmt.Fprintf(w, "%-36s %-8s %-10s %-20s -> %s\n", v.ID, v.Status, v.Mode, v.Tool, v.Dataset)
		}
	})
}

func showJob(opts *HistoryOptions, jrnl *journal.Journal, id string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	j, err := jrnl.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, journal.ErrJobNotFound) {
			return WrapExitError(ExitCommandError, "unknown job", err)
		}
		return WrapExitError(ExitCommandError, "failed to read job", err)
	}
	tuples, err := jrnl.ReadTuples(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read tuples", err)
	}
	events, err := jrnl.ReadEvents(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	v := jobView(j)
	for _, t := range tuples {
		v.Tuples = append(v.Tuples, TupleView{Index: t.Index, Status: t.Status, Error: t.Error})
	}
	for _, e := range events {
		v.Events = append(v.Events, EventView{Seq: e.Seq, Kind: e.Kind, Percent: e.Percent, Message: e.Message})
	}
	return opts.emit(cmd, v, func(w io.Writer) {
		fmt.Fprintf(w, "Job %s: %s\n", v.ID, v.Status)
		fmt.Fprintf(w, "  experiment: %s\n", v.Experiment)
		fmt.Fprintf(w, "  tool:       %s (%s)\n", v.Tool, v.Mode)
		fmt.Fprintf(w, "  dataset:    %s\n", v.Dataset)
		for _, t := range v.Tuples {
			if t.Error != "" {
				fmt.Fprintf(w, "  tuple %d: %s: %s\n", t.Index, t.Status, t.Error)
				continue
			}
			fmt.Fprintf(w, "  tuple %d: %s\n", t.Index, t.Status)
		}
		for _, e := range v.Events {
			switch e.Kind {
			case journal.EventProgress:
				fmt.Fprintf(w, "  [%d] %3d%% %s\n", e.Seq, e.Percent, e.Message)
			default:
				fmt.Fprintf(w, "  [%d] %s: %s\n", e.Seq, e.Kind, e.Message)
			}
		}
	})
}
