package store

import (
	"path/filepath"
	"slices"
	"strings"
)

// Format describes how payloads of one data format are laid out on disk.
type Format struct {
	// Name is the format identifier recorded on data documents (e.g. "imagetiff").
	Name string `yaml:"name"`

	// Extension is the payload file extension without the leading dot.
	Extension string `yaml:"extension"`

	// Companions lists extensions of sibling files copied along with the
	// main payload (e.g. "raw" for an "mhd" header).
	Companions []string `yaml:"companions"`

	// Textual marks formats whose payload is a scalar or short text value
	// that may be aggregated by a merge job.
	Textual bool `yaml:"textual"`
}

// Files returns the payload files making up a payload stored at path:
// the main file followed by its companions.
func (f Format) Files(path string) []string {
	files := []string{path}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range f.Companions {
		files = append(files, stem+"."+ext)
	}
	return files
}

// FormatRegistry maps format names to their layout.
type FormatRegistry struct {
	byName map[string]Format
	order  []string
}

// NewFormatRegistry builds a registry. Later entries replace earlier ones
// with the same name.
func NewFormatRegistry(formats ...Format) *FormatRegistry {
	r := &FormatRegistry{byName: make(map[string]Format)}
	for _, f := range formats {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a format.
func (r *FormatRegistry) Register(f Format) {
	if _, ok := r.byName[f.Name]; !ok {
		r.order = append(r.order, f.Name)
	}
	r.byName[f.Name] = f
}

// Lookup returns the format registered under name.
func (r *FormatRegistry) Lookup(name string) (Format, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Names returns registered format names in registration order.
func (r *FormatRegistry) Names() []string {
	return slices.Clone(r.order)
}

// DefaultFormats returns the built-in format registry.
func DefaultFormats() *FormatRegistry {
	return NewFormatRegistry(
		Format{Name: "imagetiff", Extension: "tif"},
		Format{Name: "imagepng", Extension: "png"},
		Format{Name: "imagemhd", Extension: "mhd", Companions: []string{"raw"}},
		Format{Name: "tablecsv", Extension: "csv", Textual: true},
		Format{Name: "numbercsv", Extension: "csv", Textual: true},
		Format{Name: "textfile", Extension: "txt", Textual: true},
		Format{Name: "json", Extension: "json"},
	)
}
