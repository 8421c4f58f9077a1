package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/expkit/internal/record"
)

// CreateProcessedData persists draft in ds as an output of run. The payload
// URI is derived from the draft's name and format inside the dataset
// directory; the caller's tool is expected to write it.
//
// The new entry is appended to the dataset document and to ds.Entries.
func (s *Store) CreateProcessedData(ctx context.Context, ds *record.Dataset, run *record.Run, draft *record.ProcessedData) (*record.ProcessedData, error) {
	const op = "create processed data"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, ok := s.formats.Lookup(draft.Format)
	if !ok {
		return nil, record.Errorf(record.CodeInvalidFormat, op, ds.Location, "unsupported format %q", draft.Format)
	}
	fileName := SanitizeName(draft.Name)
	if fileName == "" {
		return nil, fmt.Errorf("%s: empty data name %q", op, draft.Name)
	}

	pd := *draft
	pd.Inputs = append([]record.Input(nil), draft.Inputs...)
	pd.UUID = s.ids.NewID()
	pd.Location = filepath.Join(ds.Dir(), fileName+DocSuffix)
	pd.PayloadURI = filepath.Join(ds.Dir(), fileName+"."+format.Extension)
	pd.RunRef = run.Ref()
	pd.Author, pd.Date = s.defaults(pd.Author, pd.Date)

	if err := createDoc(op, pd.Location, processedToDoc(&pd)); err != nil {
		return nil, err
	}

	entries, err := s.appendEntry(ctx, ds.Location, record.Ref{Location: pd.Location, UUID: pd.UUID})
	if err != nil {
		os.Remove(pd.Location)
		return nil, err
	}
	ds.Entries = entries

	s.log.Debug("processed data created", "name", pd.Name, "location", pd.Location)
	return &pd, nil
}

// GetProcessedData reads the processed data document at location.
func (s *Store) GetProcessedData(ctx context.Context, location string) (*record.ProcessedData, error) {
	const op = "get processed data"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc dataDoc
	if err := readDoc(op, location, &doc); err != nil {
		return nil, err
	}
	if doc.UUID == "" || record.Kind(doc.Kind) != record.KindProcessed {
		return nil, record.Errorf(record.CodeNotFound, op, location, "not a processed data document")
	}
	return processedFromDoc(&doc, location), nil
}

// SaveProcessedData rewrites the processed data document.
func (s *Store) SaveProcessedData(ctx context.Context, pd *record.ProcessedData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(pd.Location)
	defer unlock()
	if err := writeDoc(pd.Location, processedToDoc(pd)); err != nil {
		return fmt.Errorf("save processed data: %w", err)
	}
	return nil
}

// GetData reads a raw or processed data document, dispatching on its kind.
func (s *Store) GetData(ctx context.Context, location string) (record.DataRecord, error) {
	const op = "get data"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc dataDoc
	if err := readDoc(op, location, &doc); err != nil {
		return nil, err
	}
	switch record.Kind(doc.Kind) {
	case record.KindRaw:
		return s.readRawData(location, s.experimentKeys(location))
	case record.KindProcessed:
		return processedFromDoc(&doc, location), nil
	default:
		return nil, record.Errorf(record.CodeNotFound, op, location, "unknown data kind %q", doc.Kind)
	}
}

func processedToDoc(pd *record.ProcessedData) *dataDoc {
	doc := &dataDoc{
		UUID:       pd.UUID,
		Kind:       string(record.KindProcessed),
		Name:       pd.Name,
		Author:     pd.Author,
		Date:       pd.Date,
		Format:     pd.Format,
		PayloadURI: rel(pd.PayloadURI, pd.Location),
		RunRef:     &refDoc{Location: rel(pd.RunRef.Location, pd.Location), UUID: pd.RunRef.UUID},
		Inputs:     make([]inputDoc, 0, len(pd.Inputs)),
		Output:     &outputDoc{Name: pd.Output.Name, Label: pd.Output.Label},
	}
	for _, in := range pd.Inputs {
		doc.Inputs = append(doc.Inputs, inputDoc{
			Name:     in.Name,
			Location: rel(in.Location, pd.Location),
			UUID:     in.UUID,
			Kind:     string(in.Kind),
		})
	}
	return doc
}

func processedFromDoc(doc *dataDoc, location string) *record.ProcessedData {
	pd := &record.ProcessedData{Data: dataFromDoc(doc, location)}
	if doc.RunRef != nil {
		pd.RunRef = record.Ref{Location: abs(doc.RunRef.Location, location), UUID: doc.RunRef.UUID}
	}
	if doc.Output != nil {
		pd.Output = record.Output{Name: doc.Output.Name, Label: doc.Output.Label}
	}
	for _, in := range doc.Inputs {
		pd.Inputs = append(pd.Inputs, record.Input{
			Name:     in.Name,
			Location: abs(in.Location, location),
			UUID:     in.UUID,
			Kind:     record.Kind(in.Kind),
		})
	}
	return pd
}
