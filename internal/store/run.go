package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/expkit/internal/record"
)

// maxRuns bounds the run-name search in one dataset.
const maxRuns = 100000

// CreateRun persists draft as the next run of ds. The document name is the
// first of run, run_1, run_2, ... that can be created exclusively, so
// concurrent writers never share a name. Existing runs are never
// overwritten.
//
// Thread-safety: safe for concurrent use. Names are claimed with O_EXCL, so
// two writers in the same dataset (even in separate processes) get distinct
// runs.
//
// Parameters:
//   - ctx: checked once before the name search
//   - ds: dataset the run belongs to; its directory holds the run document
//   - draft: process name, URI, parameters and inputs; UUID, DatasetRef and
//     Location are assigned here and draft itself is not modified
func (s *Store) CreateRun(ctx context.Context, ds *record.Dataset, draft *record.Run) (*record.Run, error) {
	const op = "create run"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run := *draft
	run.UUID = s.ids.NewID()
	run.DatasetRef = ds.Ref()

	for n := range maxRuns {
		location := filepath.Join(ds.Dir(), runFileName(n))
		if err := claim(location); err != nil {
			if isExist(err) {
				continue
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		run.Location = location
		if err := writeDoc(location, runToDoc(&run)); err != nil {
			os.Remove(location)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.log.Debug("run created", "process", run.ProcessName, "location", location)
		return &run, nil
	}
	return nil, fmt.Errorf("%s: no free run name in %s", op, ds.Dir())
}

// GetRun reads the run document at location.
func (s *Store) GetRun(ctx context.Context, location string) (*record.Run, error) {
	const op = "get run"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc runDoc
	if err := readDoc(op, location, &doc); err != nil {
		return nil, err
	}
	if doc.UUID == "" || doc.DatasetRef.UUID == "" {
		return nil, record.Errorf(record.CodeNotFound, op, location, "not a run document")
	}
	return runFromDoc(&doc, location), nil
}

// ListRuns returns the runs of ds in sequence order.
func (s *Store) ListRuns(ctx context.Context, ds *record.Dataset) ([]*record.Run, error) {
	entries, err := os.ReadDir(ds.Dir())
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	type indexed struct {
		n    int
		name string
	}
	var found []indexed
	for _, e := range entries {
		if n, ok := runIndex(e.Name()); ok && e.Type().IsRegular() {
			found = append(found, indexed{n, e.Name()})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	runs := make([]*record.Run, 0, len(found))
	for _, f := range found {
		run, err := s.GetRun(ctx, filepath.Join(ds.Dir(), f.name))
		if err != nil {
			// A claimed but unwritten run document is skipped.
			s.log.Warn("skipping unreadable run", "name", f.name, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func runToDoc(run *record.Run) *runDoc {
	doc := &runDoc{
		UUID:        run.UUID,
		ProcessName: run.ProcessName,
		ProcessURI:  run.ProcessURI,
		DatasetRef:  refDoc{Location: rel(run.DatasetRef.Location, run.Location), UUID: run.DatasetRef.UUID},
		Parameters:  make([]parameterDoc, 0, len(run.Parameters)),
		Inputs:      make([]runInputDoc, 0, len(run.Inputs)),
	}
	for _, p := range run.Parameters {
		doc.Parameters = append(doc.Parameters, parameterDoc{Name: p.Name, Value: p.Value})
	}
	for _, in := range run.Inputs {
		doc.Inputs = append(doc.Inputs, runInputDoc{
			Name:             in.Name,
			DatasetName:      in.DatasetName,
			Query:            in.Query,
			OriginOutputName: in.OriginOutputName,
		})
	}
	return doc
}

func runFromDoc(doc *runDoc, location string) *record.Run {
	run := &record.Run{
		UUID:        doc.UUID,
		Location:    location,
		ProcessName: doc.ProcessName,
		ProcessURI:  doc.ProcessURI,
		DatasetRef:  record.Ref{Location: abs(doc.DatasetRef.Location, location), UUID: doc.DatasetRef.UUID},
	}
	for _, p := range doc.Parameters {
		run.Parameters = append(run.Parameters, record.Parameter{Name: p.Name, Value: p.Value})
	}
	for _, in := range doc.Inputs {
		run.Inputs = append(run.Inputs, record.RunInput{
			Name:             in.Name,
			DatasetName:      in.DatasetName,
			Query:            in.Query,
			OriginOutputName: in.OriginOutputName,
		})
	}
	return run
}
