package job

import (
	"fmt"
	"path/filepath"
)

// Mode selects how matched records are fed to a tool.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeMerge      Mode = "merge"
)

// Port is a declared tool input, output or parameter.
type Port struct {
	// Name is the argument name as used in the command template.
	Name string

	// Format is the data format of a data input or output.
	Format string

	// IsData marks inputs bound to experiment records. Inputs without it are
	// parameters.
	IsData bool

	Description string

	// Default is used for parameters not supplied by the caller.
	Default string
}

// ToolDescriptor describes an external tool. Descriptors are produced by
// internal/tooldef.
type ToolDescriptor struct {
	ID      string
	Name    string
	Version string

	// Command is the command template. ${name} placeholders are replaced by
	// resolved input, output and parameter values.
	Command string

	Mode       Mode
	Inputs     []Port
	Outputs    []Port
	Parameters []Port

	// URI locates the descriptor file; its directory is exposed to the
	// command template as __tool_directory__.
	URI string
}

// FullName returns the tool name qualified by its version, as recorded on
// runs.
func (d *ToolDescriptor) FullName() string {
	if d.Version == "" {
		return d.Name
	}
	return fmt.Sprintf("%s_v%s", d.Name, d.Version)
}

// Dir returns the directory holding the descriptor file.
func (d *ToolDescriptor) Dir() string {
	if d.URI == "" {
		return ""
	}
	return filepath.Dir(d.URI)
}

// DataInputs returns the inputs bound to experiment records.
func (d *ToolDescriptor) DataInputs() []Port {
	var out []Port
	for _, in := range d.Inputs {
		if in.IsData {
			out = append(out, in)
		}
	}
	return out
}

// Input returns the declared input named name.
func (d *ToolDescriptor) Input(name string) (Port, bool) {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Port{}, false
}

// EffectiveMode returns the declared mode, defaulting to sequential.
func (d *ToolDescriptor) EffectiveMode() Mode {
	if d.Mode == "" {
		return ModeSequential
	}
	return d.Mode
}
