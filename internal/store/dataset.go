package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/expkit/internal/record"
)

// CreateDataset creates an empty processed dataset in exp and appends its
// reference to exp.ProcessedDatasets. Fails with AlreadyExists if the name
// collides with the raw dataset, an existing dataset, or an existing
// directory.
func (s *Store) CreateDataset(ctx context.Context, exp *record.Experiment, name string) (*record.Dataset, error) {
	const op = "create dataset"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirName := SanitizeName(name)
	if dirName == "" {
		return nil, fmt.Errorf("%s: empty dataset name %q", op, name)
	}
	if name == RawDatasetName || dirName == RawDatasetDir {
		return nil, record.Errorf(record.CodeAlreadyExists, op, exp.Location, "dataset name %q is reserved for raw data", name)
	}

	var (
		ds        *record.Dataset
		createErr error
	)
	err := s.updateExperiment(ctx, exp, func(e *record.Experiment) bool {
		dir := filepath.Join(e.Dir(), dirName)
		if slices.ContainsFunc(e.ProcessedDatasets, func(r record.DatasetRef) bool { return r.Name == name }) {
			createErr = record.Errorf(record.CodeAlreadyExists, op, dir, "dataset %q already exists", name)
			return false
		}
		if err := os.Mkdir(dir, 0o755); err != nil {
			if isExist(err) {
				createErr = record.Errorf(record.CodeAlreadyExists, op, dir, "dataset directory already exists")
			} else {
				createErr = fmt.Errorf("%s: %w", op, err)
			}
			return false
		}
		ds = &record.Dataset{
			UUID:     s.ids.NewID(),
			Location: filepath.Join(dir, ProcessedDatasetFile),
			Name:     name,
		}
		if err := createDoc(op, ds.Location, datasetToDoc(ds)); err != nil {
			os.Remove(dir)
			createErr = err
			return false
		}
		e.ProcessedDatasets = append(e.ProcessedDatasets, record.DatasetRef{
			Name:     ds.Name,
			Location: ds.Location,
			UUID:     ds.UUID,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	if createErr != nil {
		return nil, createErr
	}

	s.log.Debug("dataset created", "name", name, "location", ds.Location)
	return ds, nil
}

// GetDataset reads the dataset document at location. A dataset directory is
// also accepted.
func (s *Store) GetDataset(ctx context.Context, location string) (*record.Dataset, error) {
	const op = "get dataset"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	location = DatasetLocation(location)

	var doc datasetDoc
	if err := readDoc(op, location, &doc); err != nil {
		return nil, err
	}
	if doc.UUID == "" || doc.Name == "" {
		return nil, record.Errorf(record.CodeNotFound, op, location, "not a dataset document")
	}
	return datasetFromDoc(&doc, location), nil
}

// SaveDataset rewrites the dataset document.
func (s *Store) SaveDataset(ctx context.Context, ds *record.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(ds.Location)
	defer unlock()
	if err := writeDoc(ds.Location, datasetToDoc(ds)); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	return nil
}

// appendEntry appends ref to the dataset document at location and returns
// the updated entries.
func (s *Store) appendEntry(ctx context.Context, location string, ref record.Ref) ([]record.Ref, error) {
	unlock := s.lock(location)
	defer unlock()

	ds, err := s.GetDataset(ctx, location)
	if err != nil {
		return nil, err
	}
	ds.Entries = append(ds.Entries, ref)
	if err := writeDoc(location, datasetToDoc(ds)); err != nil {
		return nil, fmt.Errorf("append dataset entry: %w", err)
	}
	return ds.Entries, nil
}

func datasetToDoc(ds *record.Dataset) *datasetDoc {
	doc := &datasetDoc{
		UUID:    ds.UUID,
		Name:    ds.Name,
		Entries: make([]refDoc, 0, len(ds.Entries)),
	}
	for _, e := range ds.Entries {
		doc.Entries = append(doc.Entries, refDoc{Location: rel(e.Location, ds.Location), UUID: e.UUID})
	}
	return doc
}

func datasetFromDoc(doc *datasetDoc, location string) *record.Dataset {
	ds := &record.Dataset{UUID: doc.UUID, Location: location, Name: doc.Name}
	for _, e := range doc.Entries {
		ds.Entries = append(ds.Entries, record.Ref{Location: abs(e.Location, location), UUID: e.UUID})
	}
	return ds
}

func isExist(err error) bool {
	return errors.Is(err, fs.ErrExist)
}
