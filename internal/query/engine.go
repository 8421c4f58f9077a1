package query

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/roach88/expkit/internal/provenance"
	"github.com/roach88/expkit/internal/record"
)

// Summary is the searchable projection of a data record.
type Summary struct {
	Name     string
	UUID     string
	Location string
	Tags     map[string]string
}

// Filter narrows summaries by each predicate in turn and returns the
// survivors in their original order.
func Filter(summaries []Summary, q Query) []Summary {
	out := summaries
	for _, p := range q.Predicates {
		var next []Summary
		for _, s := range out {
			if p.Match(s) {
				next = append(next, s)
			}
		}
		out = next
	}
	return out
}

// Reader is the subset of the store used by the Engine.
type Reader interface {
	provenance.Reader
	GetData(ctx context.Context, location string) (record.DataRecord, error)
}

// Engine evaluates queries against datasets.
type Engine struct {
	r   Reader
	log *slog.Logger
}

// NewEngine creates an Engine reading through r. A nil logger selects
// slog.Default().
func NewEngine(r Reader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{r: r, log: logger}
}

// Summarize projects rec into a Summary. A processed record keeps its own
// identity and takes the tags of its origin RawData (none if the chain
// does not reach one).
func (e *Engine) Summarize(ctx context.Context, rec record.DataRecord) (Summary, error) {
	meta := rec.Meta()
	s := Summary{Name: meta.Name, UUID: meta.UUID, Location: meta.Location, Tags: map[string]string{}}

	switch r := rec.(type) {
	case *record.RawData:
		s.Tags = maps.Clone(r.Tags)
		if s.Tags == nil {
			s.Tags = map[string]string{}
		}
	case *record.ProcessedData:
		origin, err := provenance.GetOrigin(ctx, e.r, r)
		if err != nil {
			return Summary{}, fmt.Errorf("summarize %s: %w", meta.Location, err)
		}
		if origin != nil {
			s.Tags = maps.Clone(origin.Tags)
		}
	}
	return s, nil
}

// Select returns the records of ds matching query, in dataset order. When
// originOutputName is set, processed records produced by another output are
// dropped before the predicates run.
//
// Thread-safety: Engine holds no mutable state; Select is safe for
// concurrent use when the Reader is.
//
// Parameters:
//   - ctx: passed to every Reader call
//   - ds: dataset whose entries are read in order
//   - query: predicates joined by " AND "; empty selects every record
//   - originOutputName: optional output name filter for processed records
//
// Returns an empty slice, not an error, when nothing matches.
func (e *Engine) Select(ctx context.Context, ds *record.Dataset, query, originOutputName string) ([]record.DataRecord, error) {
	q, err := Parse(query)
	if err != nil {
		return nil, err
	}

	records := make(map[string]record.DataRecord, len(ds.Entries))
	summaries := make([]Summary, 0, len(ds.Entries))
	for _, entry := range ds.Entries {
		rec, err := e.r.GetData(ctx, entry.Location)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", ds.Name, err)
		}
		if pd, ok := rec.(*record.ProcessedData); ok && originOutputName != "" && pd.Output.Name != originOutputName {
			continue
		}
		s, err := e.Summarize(ctx, rec)
		if err != nil {
			return nil, err
		}
		records[s.Location] = rec
		summaries = append(summaries, s)
	}

	matched := Filter(summaries, q)
	out := make([]record.DataRecord, 0, len(matched))
	for _, s := range matched {
		out = append(out, records[s.Location])
	}

	e.log.Debug("query evaluated", "dataset", ds.Name, "query", query, "origin_output", originOutputName, "candidates", len(summaries), "matched", len(out))
	return out, nil
}
