package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/expkit/internal/provenance"
	"github.com/roach88/expkit/internal/query"
	"github.com/roach88/expkit/internal/record"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	OriginOutput string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <experiment> <dataset> [query]",
		Short: "Select the records of a dataset matching tag predicates",
		Long: `Select the records of a dataset whose tags satisfy every predicate of the
query. Predicates are key<op>value joined by " AND ", with op one of
= < <= > >=, or name~text matching data names. Records of processed datasets are matched on the tags of
their origin raw data. An empty query selects every record.`,
		Example: `  expkit query pilot data 'strain=wt AND temp>=30'
  expkit query pilot denoise 'strain=dko' --origin-output -o`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OriginOutput, "origin-output", "", "keep only processed data produced by this tool output")

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}
	ds, err := st.GetDatasetByName(ctx, exp, args[1])
	if err != nil {
		return commandError(err)
	}
	q := ""
	if len(args) == 3 {
		q = args[2]
	}

	engine := query.NewEngine(st, opts.Logger)
	recs, err := engine.Select(ctx, ds, q, opts.OriginOutput)
	if err != nil {
		return commandError(err)
	}

	views := make([]DataView, 0, len(recs))
	for _, rec := range recs {
		v := dataView(rec)
		if v.Tags == nil {
			s, err := engine.Summarize(ctx, rec)
			if err != nil {
				return commandError(err)
			}
			v.Tags = s.Tags
		}
		views = append(views, v)
	}
	return opts.emit(cmd, views, func(w io.Writer) {
		for _, v := range views {
			fmt.Fprintf(w, "%-32s %s\n", v.Name, formatTags(v.Tags))
		}
		fmt.Fprintf(w, "%d of %d records matched\n", len(views), len(ds.Entries))
	})
}

// LineageView is the serialized provenance chain of a processed record.
type LineageView struct {
	Data  DataView   `json:"data"`
	Chain []DataView `json:"chain"`
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := rootOpts
	return &cobra.Command{
		Use:   "lineage <experiment> <dataset> <data>",
		Short: "Show the provenance chain of processed data",
		Long: `Walk the primary inputs of a processed data record back to the raw data
it originates from, nearest ancestor first.`,
		Example:       `  expkit lineage pilot measure plate1_A01_clean_table`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(opts, args, cmd)
		},
	}
}

func runLineage(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st := opts.openStore()
	exp, err := opts.experiment(ctx, st, args[0])
	if err != nil {
		return err
	}
	ds, err := st.GetDatasetByName(ctx, exp, args[1])
	if err != nil {
		return commandError(err)
	}

	var pd *record.ProcessedData
	for _, entry := range ds.Entries {
		rec, err := st.GetData(ctx, entry.Location)
		if err != nil {
			return commandError(err)
		}
		if p, ok := rec.(*record.ProcessedData); ok && p.Name == args[2] {
			pd = p
			break
		}
	}
	if pd == nil {
		return commandError(record.Errorf(record.CodeNotFound, "lineage", ds.Location, "no processed data named %q", args[2]))
	}

	chain, err := provenance.Chain(ctx, st, pd)
	if err != nil {
		return commandError(err)
	}
	view := LineageView{Data: dataView(pd), Chain: make([]DataView, 0, len(chain))}
	for _, rec := range chain {
		view.Chain = append(view.Chain, dataView(rec))
	}
	return opts.emit(cmd, view, func(w io.Writer) {
		fmt.Fprintln(w, view.Data.Name)
		for i, v := range view.Chain {
			fmt.Fprintf(w, "%s<- %s [%s]\n", strings.Repeat("  ", i+1), v.Name, v.Kind)
		}
	})
}

func formatTags(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, " ")
}
