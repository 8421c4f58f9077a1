package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	Experiment ExperimentSpec `yaml:"experiment"`

	// Tools lists CUE tool files. Relative paths are resolved against the
	// scenario file directory by LoadScenario.
	Tools []string `yaml:"tools,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ExperimentSpec describes the experiment created before the first step.
type ExperimentSpec struct {
	Name string   `yaml:"name"`
	Keys []string `yaml:"keys,omitempty"`
}

// Step holds exactly one operation.
type Step struct {
	Import  *ImportStep  `yaml:"import,omitempty"`
	Tag     *TagStep     `yaml:"tag,omitempty"`
	Query   *QueryStep   `yaml:"query,omitempty"`
	Run     *RunStep     `yaml:"run,omitempty"`
	Lineage *LineageStep `yaml:"lineage,omitempty"`
}

// ImportStep writes Content to a scratch file and imports it as raw data.
type ImportStep struct {
	Name    string            `yaml:"name"`
	Format  string            `yaml:"format"`
	Content string            `yaml:"content"`
	Tags    map[string]string `yaml:"tags,omitempty"`

	// Copy defaults to true.
	Copy *bool `yaml:"copy,omitempty"`
}

// TagStep sets one tag on the raw data named Data.
type TagStep struct {
	Data  string `yaml:"data"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// QueryStep selects records of a dataset and compares their names.
type QueryStep struct {
	Dataset      string   `yaml:"dataset"`
	Query        string   `yaml:"query"`
	OriginOutput string   `yaml:"origin_output,omitempty"`
	Expect       []string `yaml:"expect,omitempty"`

	// Error is the expected error code, e.g. MALFORMED_QUERY.
	Error string `yaml:"error,omitempty"`
}

// RunStep executes a tool through the job executor.
type RunStep struct {
	Tool    string            `yaml:"tool"`
	Dataset string            `yaml:"dataset,omitempty"`
	Inputs  []RunInput        `yaml:"inputs"`
	Params  map[string]string `yaml:"params,omitempty"`

	// FailOn makes the backend fail any invocation whose argv contains one
	// of these substrings.
	FailOn []string `yaml:"fail_on,omitempty"`

	Expect *RunExpect `yaml:"expect,omitempty"`
}

// RunInput binds a tool input to a query.
type RunInput struct {
	Name         string `yaml:"name"`
	Dataset      string `yaml:"dataset"`
	Query        string `yaml:"query,omitempty"`
	OriginOutput string `yaml:"origin_output,omitempty"`
}

// RunExpect is the expected job outcome. Zero fields are not checked,
// except Outputs and Failures when Status is set.
type RunExpect struct {
	Status   string `yaml:"status,omitempty"`
	Outputs  int    `yaml:"outputs,omitempty"`
	Failures int    `yaml:"failures,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// LineageStep walks the provenance chain of a processed record.
type LineageStep struct {
	Dataset string   `yaml:"dataset"`
	Data    string   `yaml:"data"`
	Expect  []string `yaml:"expect"`
}

// Assertion validates the trace or the final store state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is the event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Subject optionally narrows trace_contains.
	Subject string `yaml:"subject,omitempty"`

	// Events is the expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Dataset names the dataset (dataset_size).
	Dataset string `yaml:"dataset,omitempty"`

	// Count is the expected number (trace_count, dataset_size).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertDatasetSize   = "dataset_size"
)

// LoadScenario reads and parses a scenario YAML file, resolving tool paths
// relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, tool := range scenario.Tools {
		if !filepath.IsAbs(tool) {
			scenario.Tools[i] = filepath.Join(base, tool)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Experiment.Name == "" {
		return fmt.Errorf("experiment.name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, tool := range s.Tools {
		if _, err := os.Stat(tool); os.IsNotExist(err) {
			return fmt.Errorf("tool file not found: %s", tool)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	set := 0
	for _, present := range []bool{step.Import != nil, step.Tag != nil, step.Query != nil, step.Run != nil, step.Lineage != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of import, tag, query, run, lineage is required", index)
	}

	switch {
	case step.Import != nil:
		if step.Import.Name == "" || step.Import.Format == "" {
			return fmt.Errorf("steps[%d].import: name and format are required", index)
		}
	case step.Tag != nil:
		if step.Tag.Data == "" || step.Tag.Key == "" {
			return fmt.Errorf("steps[%d].tag: data and key are required", index)
		}
	case step.Query != nil:
		if step.Query.Dataset == "" {
			return fmt.Errorf("steps[%d].query: dataset is required", index)
		}
	case step.Run != nil:
		if step.Run.Tool == "" {
			return fmt.Errorf("steps[%d].run: tool is required", index)
		}
	case step.Lineage != nil:
		if step.Lineage.Dataset == "" || step.Lineage.Data == "" {
			return fmt.Errorf("steps[%d].lineage: dataset and data are required", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDatasetSize:
		if a.Dataset == "" {
			return fmt.Errorf("assertions[%d]: dataset is required for dataset_size", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dataset_size", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
