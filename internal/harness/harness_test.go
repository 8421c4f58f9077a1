package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_EndToEnd(t *testing.T) {
	result, err := Run(loadTestScenario(t, "end_to_end"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestRun_TagAndCountGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "tag_and_count"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DeterministicTrace(t *testing.T) {
	s := loadTestScenario(t, "end_to_end")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_PartialFailureTrace(t *testing.T) {
	s := &Scenario{
		Name:        "partial",
		Description: "one tuple fails",
		Experiment:  ExperimentSpec{Name: "Partial"},
		Tools:       []string{filepath.Join("testdata", "tools", "count.cue")},
		Steps: []Step{
			{Import: &ImportStep{Name: "x1", Format: "textfile"}},
			{Import: &ImportStep{Name: "x2", Format: "textfile"}},
			{Run: &RunStep{
				Tool:   "count",
				Inputs: []RunInput{{Name: "in", Dataset: "data"}},
				FailOn: []string{"x1"},
				Expect: &RunExpect{Status: "partial", Outputs: 2, Failures: 1},
			}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var types []string
	for _, e := range result.Trace {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		EventImport, EventImport,
		EventExec, EventError, EventProgress,
		EventExec, EventProgress,
		EventNotify, EventRun,
	}, types)

	errEvent := result.Trace[3]
	assert.Equal(t, "job-1", errEvent.Subject)
	assert.Contains(t, errEvent.Detail["message"], "tuple 0 (x1)")
	assert.Equal(t, "count", result.Trace[8].Detail["dataset"])
}

func TestRun_RecordsMismatches(t *testing.T) {
	s := &Scenario{
		Name:        "mismatch",
		Description: "expectations that do not hold",
		Experiment:  ExperimentSpec{Name: "Mismatch", Keys: []string{"Population"}},
		Steps: []Step{
			{Import: &ImportStep{Name: "x1", Format: "textfile", Tags: map[string]string{"Population": "p1"}}},
			{Query: &QueryStep{Dataset: "data", Query: "Population=p1", Expect: []string{"x2"}}},
			{Query: &QueryStep{Dataset: "data", Query: "Population=p1", Error: "MALFORMED_QUERY"}},
			{Tag: &TagStep{Data: "missing", Key: "k", Value: "v"}},
			{Run: &RunStep{Tool: "absent"}},
		},
		Assertions: []Assertion{
			{Type: AssertDatasetSize, Dataset: "data", Count: 2},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "expected [x2], got [x1]")
	assert.Contains(t, result.Errors[1], "expected error MALFORMED_QUERY, got none")
	assert.Contains(t, result.Errors[2], `raw data "missing" not found`)
	assert.Contains(t, result.Errors[3], `tool "absent" not loaded`)
	assert.Contains(t, result.Errors[4], "2 entries in data")
}

func TestRunIn_KeepsWorkspace(t *testing.T) {
	ws := t.TempDir()
	result, err := RunIn(loadTestScenario(t, "tag_and_count"), ws)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.FileExists(t, filepath.Join(ws, "Golden", "experiment.md.json"))
	assert.FileExists(t, filepath.Join(ws, "Golden", "counts", "run.md.json"))
}

func TestRun_ToolLoadFailure(t *testing.T) {
	s := &Scenario{
		Name:       "bad",
		Experiment: ExperimentSpec{Name: "Bad"},
		Tools:      []string{filepath.Join("testdata", "tools", "missing.cue")},
		Steps:      []Step{{Query: &QueryStep{Dataset: "data"}}},
	}
	_, err := Run(s)
	assert.Error(t, err)
}
