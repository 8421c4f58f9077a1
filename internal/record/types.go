package record

import (
	"path/filepath"
	"slices"
)

// Kind discriminates the concrete type behind a DataRecord or an input
// reference.
type Kind string

const (
	// KindRaw marks imported data.
	KindRaw Kind = "raw"

	// KindProcessed marks data produced by a run.
	KindProcessed Kind = "processed"

	// KindMerged marks a scratch file aggregated by a merge job. It has no
	// document of its own and ends a provenance walk.
	KindMerged Kind = "merged"
)

// Ref points at a persisted document.
type Ref struct {
	Location string
	UUID     string
}

// DatasetRef is a named pointer to a Dataset.
type DatasetRef struct {
	Name     string
	Location string
	UUID     string
}

// Experiment is the root of a tree of datasets.
type Experiment struct {
	UUID              string
	Location          string
	Name              string
	Author            string
	Date              string
	Keys              []string // ordered set
	RawDataset        DatasetRef
	ProcessedDatasets []DatasetRef
}

// Dir returns the experiment directory.
func (e *Experiment) Dir() string {
	return filepath.Dir(e.Location)
}

// HasKey reports whether key is part of the tag vocabulary.
func (e *Experiment) HasKey(key string) bool {
	return slices.Contains(e.Keys, key)
}

// AddKey appends key to the vocabulary unless already present.
// Returns true if the vocabulary changed.
func (e *Experiment) AddKey(key string) bool {
	if key == "" || e.HasKey(key) {
		return false
	}
	e.Keys = append(e.Keys, key)
	return true
}

// Dataset is an append-only ordered list of data documents.
type Dataset struct {
	UUID     string
	Location string
	Name     string
	Entries  []Ref
}

// Dir returns the directory holding the dataset document and its data.
func (d *Dataset) Dir() string {
	return filepath.Dir(d.Location)
}

// Ref returns the dataset as a relationship reference.
func (d *Dataset) Ref() Ref {
	return Ref{Location: d.Location, UUID: d.UUID}
}

// Data is the shape shared by raw and processed data.
type Data struct {
	UUID       string
	Location   string
	Name       string
	Author     string
	Date       string
	Format     string
	PayloadURI string // always absolute once read from the store
}

// DataRecord is implemented by *RawData and *ProcessedData.
type DataRecord interface {
	Kind() Kind
	Meta() *Data
}

// RawData is imported data annotated with tags.
type RawData struct {
	Data
	Tags map[string]string
}

// Kind implements DataRecord.
func (r *RawData) Kind() Kind { return KindRaw }

// Meta implements DataRecord.
func (r *RawData) Meta() *Data { return &r.Data }

// Tag returns the value of key and whether it is present.
func (r *RawData) Tag(key string) (string, bool) {
	v, ok := r.Tags[key]
	return v, ok
}

// Input is one entry of a processed data provenance list.
type Input struct {
	Name     string
	Location string
	UUID     string
	Kind     Kind
}

// Output identifies which tool output produced a processed data.
type Output struct {
	Name  string
	Label string
}

// ProcessedData is data produced by a run. Inputs[0] is the primary input
// used for ancestor traversal.
type ProcessedData struct {
	Data
	RunRef Ref
	Inputs []Input
	Output Output
}

// Kind implements DataRecord.
func (p *ProcessedData) Kind() Kind { return KindProcessed }

// Meta implements DataRecord.
func (p *ProcessedData) Meta() *Data { return &p.Data }

// Primary returns the designated primary input, if any.
func (p *ProcessedData) Primary() (Input, bool) {
	if len(p.Inputs) == 0 {
		return Input{}, false
	}
	return p.Inputs[0], true
}

// Parameter is a tool parameter value recorded on a run.
type Parameter struct {
	Name  string
	Value string
}

// RunInput records how one named input of a run was selected.
type RunInput struct {
	Name             string
	DatasetName      string
	Query            string
	OriginOutputName string
}

// Run records one job execution against a processed dataset.
type Run struct {
	UUID        string
	Location    string
	ProcessName string
	ProcessURI  string
	DatasetRef  Ref
	Parameters  []Parameter
	Inputs      []RunInput
}

// Ref returns the run as a relationship reference.
func (r *Run) Ref() Ref {
	return Ref{Location: r.Location, UUID: r.UUID}
}
