package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/expkit/internal/record"
)

// CreateExperiment creates an experiment directory under destinationDir,
// its empty raw dataset, and the experiment document, in that order.
//
// Fails with NotFound if destinationDir does not exist and AlreadyExists if
// the experiment directory (the name with whitespace stripped) is present.
func (s *Store) CreateExperiment(ctx context.Context, name, author, date string, keys []string, destinationDir string) (*record.Experiment, error) {
	const op = "create experiment"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(destinationDir)
	if err != nil || !info.IsDir() {
		return nil, record.Errorf(record.CodeNotFound, op, destinationDir, "destination directory does not exist")
	}

	dirName := SanitizeName(name)
	if dirName == "" {
		return nil, fmt.Errorf("%s: empty experiment name %q", op, name)
	}
	dir := filepath.Join(destinationDir, dirName)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, record.Errorf(record.CodeAlreadyExists, op, dir, "experiment directory already exists")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rawDir := filepath.Join(dir, RawDatasetDir)
	if err := os.Mkdir(rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw := &record.Dataset{
		UUID:     s.ids.NewID(),
		Location: filepath.Join(rawDir, RawDatasetFile),
		Name:     RawDatasetName,
	}
	if err := createDoc(op, raw.Location, datasetToDoc(raw)); err != nil {
		return nil, err
	}

	author, date = s.defaults(author, date)
	exp := &record.Experiment{
		UUID:     s.ids.NewID(),
		Location: filepath.Join(dir, ExperimentFile),
		Name:     name,
		Author:   author,
		Date:     date,
		RawDataset: record.DatasetRef{
			Name:     raw.Name,
			Location: raw.Location,
			UUID:     raw.UUID,
		},
	}
	for _, k := range keys {
		exp.AddKey(strings.TrimSpace(k))
	}
	if err := createDoc(op, exp.Location, experimentToDoc(exp)); err != nil {
		return nil, err
	}

	s.log.Debug("experiment created", "name", name, "location", exp.Location)
	return s.GetExperiment(ctx, exp.Location)
}

// GetExperiment reads the experiment document at location. A directory
// containing an experiment document is also accepted.
func (s *Store) GetExperiment(ctx context.Context, location string) (*record.Experiment, error) {
	const op = "get experiment"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	location = ExperimentLocation(location)

	var doc experimentDoc
	if err := readDoc(op, location, &doc); err != nil {
		return nil, err
	}
	if doc.UUID == "" || doc.RawDataset.Location == "" {
		return nil, record.Errorf(record.CodeNotFound, op, location, "not an experiment document")
	}
	return experimentFromDoc(&doc, location), nil
}

// SaveExperiment rewrites the experiment document.
func (s *Store) SaveExperiment(ctx context.Context, exp *record.Experiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(exp.Location)
	defer unlock()
	if err := writeDoc(exp.Location, experimentToDoc(exp)); err != nil {
		return fmt.Errorf("save experiment: %w", err)
	}
	return nil
}

// SetKey adds key to the experiment vocabulary. Existing raw data documents
// are not rewritten.
func (s *Store) SetKey(ctx context.Context, exp *record.Experiment, key string) error {
	return s.updateExperiment(ctx, exp, func(e *record.Experiment) bool {
		return e.AddKey(key)
	})
}

// SetKeys replaces the experiment vocabulary, dropping duplicates.
func (s *Store) SetKeys(ctx context.Context, exp *record.Experiment, keys []string) error {
	return s.updateExperiment(ctx, exp, func(e *record.Experiment) bool {
		e.Keys = nil
		for _, k := range keys {
			e.AddKey(k)
		}
		return true
	})
}

// updateExperiment applies fn to the persisted experiment under the
// document lock, writes it back if fn reports a change, and refreshes exp.
func (s *Store) updateExperiment(ctx context.Context, exp *record.Experiment, fn func(*record.Experiment) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(exp.Location)
	defer unlock()

	current, err := s.GetExperiment(ctx, exp.Location)
	if err != nil {
		return err
	}
	if fn(current) {
		if err := writeDoc(current.Location, experimentToDoc(current)); err != nil {
			return fmt.Errorf("update experiment: %w", err)
		}
	}
	*exp = *current
	return nil
}

// ListExperiments returns the experiments found directly under workspace,
// ordered by directory name.
func (s *Store) ListExperiments(ctx context.Context, workspace string) ([]*record.Experiment, error) {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, record.Errorf(record.CodeNotFound, "list experiments", workspace, "workspace does not exist")
		}
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	var out []*record.Experiment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		location := filepath.Join(workspace, e.Name(), ExperimentFile)
		if _, err := os.Stat(location); err != nil {
			continue
		}
		exp, err := s.GetExperiment(ctx, location)
		if err != nil {
			s.log.Warn("skipping unreadable experiment", "location", location, "error", err)
			continue
		}
		out = append(out, exp)
	}
	return out, nil
}

// GetDatasetByName resolves a dataset of exp by name. The name "data"
// designates the raw dataset.
func (s *Store) GetDatasetByName(ctx context.Context, exp *record.Experiment, name string) (*record.Dataset, error) {
	if name == RawDatasetName {
		return s.GetDataset(ctx, exp.RawDataset.Location)
	}
	idx := slices.IndexFunc(exp.ProcessedDatasets, func(r record.DatasetRef) bool {
		return r.Name == name
	})
	if idx < 0 {
		return nil, record.Errorf(record.CodeNotFound, "get dataset", exp.Location, "experiment has no dataset named %q", name)
	}
	return s.GetDataset(ctx, exp.ProcessedDatasets[idx].Location)
}

func experimentToDoc(exp *record.Experiment) *experimentDoc {
	doc := &experimentDoc{
		UUID:   exp.UUID,
		Name:   exp.Name,
		Author: exp.Author,
		Date:   exp.Date,
		Keys:   slices.Clone(exp.Keys),
		RawDataset: datasetRefDoc{
			Name:     exp.RawDataset.Name,
			Location: rel(exp.RawDataset.Location, exp.Location),
			UUID:     exp.RawDataset.UUID,
		},
		ProcessedDatasets: make([]datasetRefDoc, 0, len(exp.ProcessedDatasets)),
	}
	if doc.Keys == nil {
		doc.Keys = []string{}
	}
	for _, r := range exp.ProcessedDatasets {
		doc.ProcessedDatasets = append(doc.ProcessedDatasets, datasetRefDoc{
			Name:     r.Name,
			Location: rel(r.Location, exp.Location),
			UUID:     r.UUID,
		})
	}
	return doc
}

func experimentFromDoc(doc *experimentDoc, location string) *record.Experiment {
	exp := &record.Experiment{
		UUID:     doc.UUID,
		Location: location,
		Name:     doc.Name,
		Author:   doc.Author,
		Date:     doc.Date,
		Keys:     slices.Clone(doc.Keys),
		RawDataset: record.DatasetRef{
			Name:     doc.RawDataset.Name,
			Location: abs(doc.RawDataset.Location, location),
			UUID:     doc.RawDataset.UUID,
		},
	}
	for _, r := range doc.ProcessedDatasets {
		exp.ProcessedDatasets = append(exp.ProcessedDatasets, record.DatasetRef{
			Name:     r.Name,
			Location: abs(r.Location, location),
			UUID:     r.UUID,
		})
	}
	return exp
}
