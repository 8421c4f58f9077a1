package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/expkit/internal/pathref"
	"github.com/roach88/expkit/internal/record"
)

// Persisted document shapes. Field names are part of the on-disk format.

type refDoc struct {
	Location string `json:"location"`
	UUID     string `json:"uuid"`
}

type datasetRefDoc struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	UUID     string `json:"uuid"`
}

type experimentDoc struct {
	UUID              string          `json:"uuid"`
	Name              string          `json:"name"`
	Author            string          `json:"author"`
	Date              string          `json:"date"`
	Keys              []string        `json:"keys"`
	RawDataset        datasetRefDoc   `json:"raw_dataset"`
	ProcessedDatasets []datasetRefDoc `json:"processed_datasets"`
}

type datasetDoc struct {
	UUID    string   `json:"uuid"`
	Name    string   `json:"name"`
	Entries []refDoc `json:"entries"`
}

type inputDoc struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	UUID     string `json:"uuid"`
	Kind     string `json:"kind"`
}

type outputDoc struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// dataDoc covers both raw and processed data; Kind selects which of the
// optional fields are meaningful.
type dataDoc struct {
	UUID       string            `json:"uuid"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Author     string            `json:"author"`
	Date       string            `json:"date"`
	Format     string            `json:"format"`
	PayloadURI string            `json:"payload_uri"`
	Tags       map[string]string `json:"tags,omitempty"`
	RunRef     *refDoc           `json:"run_ref,omitempty"`
	Inputs     []inputDoc        `json:"inputs,omitempty"`
	Output     *outputDoc        `json:"output,omitempty"`
}

type parameterDoc struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type runInputDoc struct {
	Name             string `json:"name"`
	DatasetName      string `json:"dataset_name"`
	Query            string `json:"query"`
	OriginOutputName string `json:"origin_output_name"`
}

type runDoc struct {
	UUID        string         `json:"uuid"`
	ProcessName string         `json:"process_name"`
	ProcessURI  string         `json:"process_uri"`
	DatasetRef  refDoc         `json:"dataset_ref"`
	Parameters  []parameterDoc `json:"parameters"`
	Inputs      []runInputDoc  `json:"inputs"`
}

// readDoc decodes the document at location into v. A missing or
// undecodable document is NotFound.
func readDoc(op, location string, v any) error {
	data, err := os.ReadFile(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return record.Errorf(record.CodeNotFound, op, location, "no such document")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return record.Wrap(record.CodeNotFound, op, location, fmt.Errorf("not a document of the expected shape: %w", err))
	}
	return nil
}

func encodeDoc(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeDoc replaces the document at location atomically.
func writeDoc(location string, v any) error {
	data, err := encodeDoc(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", location, err)
	}
	return writeFileAtomic(location, data)
}

func writeFileAtomic(location string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(location), "."+filepath.Base(location)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", location, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", location, err)
	}
	if err := os.Rename(tmpName, location); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", location, err)
	}
	return nil
}

// claim creates an empty file at location, failing if it already exists.
// Returns fs.ErrExist (wrapped) on collision.
func claim(location string) error {
	f, err := os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// createDoc claims location and writes v into it. A collision is
// AlreadyExists.
func createDoc(op, location string, v any) error {
	if err := claim(location); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return record.Errorf(record.CodeAlreadyExists, op, location, "document already exists")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := writeDoc(location, v); err != nil {
		os.Remove(location)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// rel stores target relative to the document at base.
func rel(target, base string) string {
	return pathref.ToRelative(target, base)
}

// abs resolves a stored reference against the document at base.
func abs(ref, base string) string {
	return pathref.ToAbsolute(ref, base)
}
