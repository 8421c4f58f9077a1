// Package tooldef loads tool descriptors from CUE files.
//
// A file declares one or more tools under the top-level "tool" struct:
//
//	tool: denoise: {
//		name:    "denoise"
//		version: "1.0"
//		command: "denoise -i ${i} -o ${o} --sigma ${sigma}"
//		inputs: [{name: "i", format: "imagetiff", data: true}]
//		outputs: [{name: "o", format: "imagetiff"}]
//		parameters: [{name: "sigma", default: "2"}]
//	}
//
// Every tool is unified with the embedded #Tool schema before decoding, so
// unknown fields and wrong types are reported with CUE positions.
package tooldef

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/expkit/internal/job"
)

//go:embed schema.cue
var schemaCUE string

// CompileError is a descriptor error with an optional source position.
type CompileError struct {
	Tool    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	field := e.Field
	if e.Tool != "" {
		field = e.Tool + "." + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), field, e.Message)
	}
	return fmt.Sprintf("%s: %s", field, e.Message)
}

type portDoc struct {
	Name        string `json:"name"`
	Format      string `json:"format,omitempty"`
	Data        bool   `json:"data"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
}

type toolDoc struct {
	Name       string    `json:"name"`
	Version    string    `json:"version,omitempty"`
	Command    string    `json:"command"`
	Mode       string    `json:"mode"`
	Inputs     []portDoc `json:"inputs"`
	Outputs    []portDoc `json:"outputs"`
	Parameters []portDoc `json:"parameters"`
}

// LoadFile reads every tool declared in the file at path, sorted by id.
func LoadFile(path string) ([]*job.ToolDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve tool file: %w", err)
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read tool file: %w", err)
	}
	return Parse(src, abs)
}

// Load reads the tool id from the file at path. An empty id selects the
// only tool of a single-tool file.
func Load(path, id string) (*job.ToolDescriptor, error) {
	tools, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if len(tools) != 1 {
			return nil, fmt.Errorf("%s declares %d tools; select one by id", path, len(tools))
		}
		return tools[0], nil
	}
	for _, t := range tools {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tool %q not declared in %s", id, path)
}

// Parse compiles CUE source declaring tools. uri is recorded on every
// descriptor and names the source in positions.
func Parse(src []byte, uri string) ([]*job.ToolDescriptor, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("tooldef/schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile tool schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Tool"))

	v := ctx.CompileBytes(src, cue.Filename(uri))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}

	toolsVal := v.LookupPath(cue.ParsePath("tool"))
	if !toolsVal.Exists() {
		return nil, &CompileError{Field: "tool", Message: "no tools declared", Pos: v.Pos()}
	}
	iter, err := toolsVal.Fields()
	if err != nil {
		return nil, formatCUEError("", err)
	}

	var tools []*job.ToolDescriptor
	for iter.Next() {
		id := iter.Label()
		desc, err := compileTool(def, iter.Value(), id)
		if err != nil {
			return nil, err
		}
		desc.URI = uri
		tools = append(tools, desc)
	}
	if len(tools) == 0 {
		return nil, &CompileError{Field: "tool", Message: "no tools declared", Pos: toolsVal.Pos()}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID < tools[j].ID })
	return tools, nil
}

func compileTool(def, v cue.Value, id string) (*job.ToolDescriptor, error) {
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(id, err)
	}

	var doc toolDoc
	if err := unified.Decode(&doc); err != nil {
		return nil, formatCUEError(id, err)
	}

	desc := &job.ToolDescriptor{
		ID:         id,
		Name:       doc.Name,
		Version:    doc.Version,
		Command:    doc.Command,
		Mode:       job.Mode(doc.Mode),
		Inputs:     ports(doc.Inputs),
		Outputs:    ports(doc.Outputs),
		Parameters: ports(doc.Parameters),
	}
	if err := validate(desc, v); err != nil {
		return nil, err
	}
	return desc, nil
}

func ports(docs []portDoc) []job.Port {
	if len(docs) == 0 {
		return nil
	}
	out := make([]job.Port, len(docs))
	for i, d := range docs {
		out[i] = job.Port{
			Name:        d.Name,
			Format:      d.Format,
			IsData:      d.Data,
			Description: d.Description,
			Default:     d.Default,
		}
	}
	return out
}

// validate checks constraints the schema cannot express.
func validate(desc *job.ToolDescriptor, v cue.Value) error {
	seen := make(map[string]string)
	check := func(section string, list []job.Port) error {
		for i, p := range list {
			path := fmt.Sprintf("%s[%d]", section, i)
			if prev, ok := seen[p.Name]; ok {
				return &CompileError{
					Tool:    desc.ID,
					Field:   path + ".name",
					Message: fmt.Sprintf("%q already declared at %s", p.Name, prev),
					Pos:     v.LookupPath(cue.ParsePath(path)).Pos(),
				}
			}
			seen[p.Name] = path
		}
		return nil
	}
	if err := check("inputs", desc.Inputs); err != nil {
		return err
	}
	if err := check("outputs", desc.Outputs); err != nil {
		return err
	}
	if err := check("parameters", desc.Parameters); err != nil {
		return err
	}

	for i, out := range desc.Outputs {
		if out.Format == "" {
			path := fmt.Sprintf("outputs[%d]", i)
			return &CompileError{
				Tool:    desc.ID,
				Field:   path + ".format",
				Message: "output format is required",
				Pos:     v.LookupPath(cue.ParsePath(path)).Pos(),
			}
		}
	}
	for i, in := range desc.Inputs {
		if in.IsData && in.Format == "" {
			path := fmt.Sprintf("inputs[%d]", i)
			return &CompileError{
				Tool:    desc.ID,
				Field:   path + ".format",
				Message: "data input format is required",
				Pos:     v.LookupPath(cue.ParsePath(path)).Pos(),
			}
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(tool string, err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Tool:    tool,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
