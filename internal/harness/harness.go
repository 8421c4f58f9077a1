package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/expkit/internal/backend"
	"github.com/roach88/expkit/internal/job"
	"github.com/roach88/expkit/internal/provenance"
	"github.com/roach88/expkit/internal/query"
	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/store"
	"github.com/roach88/expkit/internal/testutil"
	"github.com/roach88/expkit/internal/tooldef"
)

// WorkspaceVar replaces the scratch workspace path in traced strings.
const WorkspaceVar = "$WORKSPACE"

// Harness is the scenario execution engine. A Harness runs one scenario.
type Harness struct {
	ws     string
	store  *store.Store
	exp    *record.Experiment
	tools  map[string]*job.ToolDescriptor
	clock  *testutil.DeterministicClock
	logger *slog.Logger
	result *Result
	jobs   int
}

// Run executes a scenario in a fresh scratch workspace and returns the
// result. The returned error reports harness failures (unreadable tools, an
// experiment that cannot be created); step and assertion mismatches are
// recorded on the result.
func Run(scenario *Scenario) (*Result, error) {
	ws, err := os.MkdirTemp("", "expkit-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(ws)
	return RunIn(scenario, ws)
}

// RunIn executes a scenario in the existing empty directory ws.
func RunIn(scenario *Scenario, ws string) (*Result, error) {
	ws, err := filepath.Abs(ws)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	logger := slog.New(slog.DiscardHandler)
	h := &Harness{
		ws: ws,
		store: store.New(store.Config{
			IDs:    testutil.NewSequentialIDs(),
			Clock:  testutil.FixedClock{},
			Author: "harness",
			Logger: logger,
		}),
		tools:  make(map[string]*job.ToolDescriptor),
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
		result: NewResult(),
	}

	for _, path := range scenario.Tools {
		tools, err := tooldef.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load tools: %w", err)
		}
		for _, t := range tools {
			h.tools[t.ID] = t
		}
	}

	ctx := context.Background()
	h.exp, err = h.store.CreateExperiment(ctx, scenario.Experiment.Name, "", "", scenario.Experiment.Keys, ws)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d]: %s", i, h.sanitize(err.Error())))
		}
	}

	actx := &AssertionContext{Store: h.store, Experiment: h.exp, Ctx: ctx}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch {
	case step.Import != nil:
		return h.runImport(ctx, step.Import)
	case step.Tag != nil:
		return h.runTag(ctx, step.Tag)
	case step.Query != nil:
		return h.runQuery(ctx, step.Query)
	case step.Run != nil:
		return h.runJob(ctx, step.Run)
	case step.Lineage != nil:
		return h.runLineage(ctx, step.Lineage)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) runImport(ctx context.Context, step *ImportStep) error {
	format, ok := h.store.Formats().Lookup(step.Format)
	ext := "bin"
	if ok {
		ext = format.Extension
	}
	source := filepath.Join(h.ws, "sources", step.Name+"."+ext)
	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(source, []byte(step.Content), 0o644); err != nil {
		return err
	}

	copyPayload := step.Copy == nil || *step.Copy
	_, err := h.store.ImportRawData(ctx, h.exp, store.ImportRequest{
		Source: source,
		Name:   step.Name,
		Format: step.Format,
		Tags:   step.Tags,
		Copy:   copyPayload,
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", step.Name, err)
	}

	detail := map[string]any{"format": step.Format}
	if len(step.Tags) > 0 {
		detail["tags"] = step.Tags
	}
	h.trace(EventImport, step.Name, detail)
	return nil
}

func (h *Harness) runTag(ctx context.Context, step *TagStep) error {
	ds, err := h.store.GetDataset(ctx, h.exp.RawDataset.Location)
	if err != nil {
		return err
	}
	for _, entry := range ds.Entries {
		rd, err := h.store.GetRawData(ctx, entry.Location)
		if err != nil {
			return err
		}
		if rd.Name != step.Data {
			continue
		}
		if err := h.store.SetTag(ctx, h.exp, rd.Location, step.Key, step.Value); err != nil {
			return fmt.Errorf("tag %s: %w", step.Data, err)
		}
		h.trace(EventTag, step.Data, map[string]any{"key": step.Key, "value": step.Value})
		return nil
	}
	return fmt.Errorf("tag: raw data %q not found", step.Data)
}

func (h *Harness) runQuery(ctx context.Context, step *QueryStep) error {
	ds, err := h.store.GetDatasetByName(ctx, h.exp, step.Dataset)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	recs, err := query.NewEngine(h.store, h.logger).Select(ctx, ds, step.Query, step.OriginOutput)

	detail := map[string]any{"query": step.Query}
	if step.OriginOutput != "" {
		detail["origin_output"] = step.OriginOutput
	}
	if err != nil {
		detail["error"] = string(record.CodeOf(err))
		h.trace(EventQuery, step.Dataset, detail)
		return expectCode("query", step.Error, err)
	}

	names := recordNames(recs)
	detail["matched"] = names
	h.trace(EventQuery, step.Dataset, detail)

	if step.Error != "" {
		return fmt.Errorf("query %q: expected error %s, got none", step.Query, step.Error)
	}
	if !slices.Equal(names, step.Expect) {
		return fmt.Errorf("query %q: expected %v, got %v", step.Query, step.Expect, names)
	}
	return nil
}

func (h *Harness) runJob(ctx context.Context, step *RunStep) error {
	tool, ok := h.tools[step.Tool]
	if !ok {
		return fmt.Errorf("run: tool %q not loaded", step.Tool)
	}

	inputs := make([]job.InputSpec, len(step.Inputs))
	for i, in := range step.Inputs {
		inputs[i] = job.InputSpec{Name: in.Name, Dataset: in.Dataset, Query: in.Query, OriginOutput: in.OriginOutput}
	}
	names := make([]string, 0, len(step.Params))
	for name := range step.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([]record.Parameter, len(names))
	for i, name := range names {
		params[i] = record.Parameter{Name: name, Value: step.Params[name]}
	}

	h.jobs++
	jobID := fmt.Sprintf("job-%d", h.jobs)
	exec := job.New(job.Config{
		Store:    h.store,
		Backend:  &scriptedBackend{DryRun: backend.NewDryRun(h.logger), h: h, failOn: step.FailOn},
		Observer: traceObserver{h: h},
		NewID:    func() string { return jobID },
		Logger:   h.logger,
	})
	report, err := exec.Run(ctx, job.Request{
		Experiment: h.exp,
		Tool:       tool,
		Dataset:    step.Dataset,
		Inputs:     inputs,
		Parameters: params,
	})

	detail := map[string]any{"job": jobID}
	if report != nil {
		detail["dataset"] = report.Dataset.Name
		detail["status"] = string(report.Status())
		detail["outputs"] = len(report.Outputs)
		detail["failures"] = len(report.Failures)
	}
	if err != nil {
		detail["error"] = string(record.CodeOf(err))
	}
	h.trace(EventRun, step.Tool, detail)

	expect := step.Expect
	if expect == nil {
		expect = &RunExpect{}
	}
	if err != nil || expect.Error != "" {
		if err := expectCode("run "+step.Tool, expect.Error, err); err != nil {
			return err
		}
	}
	if expect.Status != "" {
		if report == nil {
			return fmt.Errorf("run %s: expected status %s, job did not start", step.Tool, expect.Status)
		}
		if got := string(report.Status()); got != expect.Status {
			return fmt.Errorf("run %s: expected status %s, got %s", step.Tool, expect.Status, got)
		}
		if len(report.Outputs) != expect.Outputs {
			return fmt.Errorf("run %s: expected %d outputs, got %d", step.Tool, expect.Outputs, len(report.Outputs))
		}
		if len(report.Failures) != expect.Failures {
			return fmt.Errorf("run %s: expected %d failures, got %d", step.Tool, expect.Failures, len(report.Failures))
		}
	}
	return nil
}

func (h *Harness) runLineage(ctx context.Context, step *LineageStep) error {
	ds, err := h.store.GetDatasetByName(ctx, h.exp, step.Dataset)
	if err != nil {
		return fmt.Errorf("lineage: %w", err)
	}
	for _, entry := range ds.Entries {
		pd, err := h.store.GetProcessedData(ctx, entry.Location)
		if err != nil {
			return err
		}
		if pd.Name != step.Data {
			continue
		}
		chain, err := provenance.Chain(ctx, h.store, pd)
		if err != nil {
			return fmt.Errorf("lineage %s: %w", step.Data, err)
		}
		names := recordNames(chain)
		h.trace(EventLineage, step.Data, map[string]any{"chain": names})
		if !slices.Equal(names, step.Expect) {
			return fmt.Errorf("lineage %s: expected %v, got %v", step.Data, step.Expect, names)
		}
		return nil
	}
	return fmt.Errorf("lineage: %q not found in dataset %s", step.Data, step.Dataset)
}

// expectCode compares the error code of err with want. An empty want
// expects no error.
func expectCode(what, want string, err error) error {
	got := ""
	if err != nil {
		got = string(record.CodeOf(err))
		if got == "" {
			got = err.Error()
		}
	}
	if got == want {
		return nil
	}
	if want == "" {
		return fmt.Errorf("%s: unexpected error: %w", what, err)
	}
	return fmt.Errorf("%s: expected error %s, got %q", what, want, got)
}

func recordNames(recs []record.DataRecord) []string {
	names := make([]string, len(recs))
	for i, rec := range recs {
		names[i] = rec.Meta().Name
	}
	return names
}

// trace appends an event stamped with the next logical time.
func (h *Harness) trace(typ, subject string, detail map[string]any) {
	for k, v := range detail {
		switch val := v.(type) {
		case string:
			detail[k] = h.sanitize(val)
		case []string:
			out := make([]string, len(val))
			for i, s := range val {
				out[i] = h.sanitize(s)
			}
			detail[k] = out
		}
	}
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Seq:     h.clock.Next(),
		Type:    typ,
		Subject: subject,
		Detail:  detail,
	})
}

func (h *Harness) sanitize(s string) string {
	return strings.ReplaceAll(s, h.ws, WorkspaceVar)
}

// scriptedBackend records invocations and fails those matching failOn.
type scriptedBackend struct {
	*backend.DryRun
	h      *Harness
	failOn []string
}

func (b *scriptedBackend) Execute(ctx context.Context, tool *job.ToolDescriptor, argv []string, jobID string) error {
	if err := b.DryRun.Execute(ctx, tool, argv, jobID); err != nil {
		return err
	}
	b.h.trace(EventExec, tool.FullName(), map[string]any{"argv": slices.Clone(argv)})
	for _, pattern := range b.failOn {
		for _, arg := range argv {
			if strings.Contains(arg, pattern) {
				return fmt.Errorf("exit status 1")
			}
		}
	}
	return nil
}

// traceObserver appends job notifications to the trace.
type traceObserver struct {
	h *Harness
}

func (o traceObserver) Notify(message, jobID string) {
	o.h.trace(EventNotify, jobID, map[string]any{"message": message})
}

func (o traceObserver) NotifyProgress(percent int, message, jobID string) {
	o.h.trace(EventProgress, jobID, map[string]any{"message": message, "percent": percent})
}

func (o traceObserver) NotifyError(message, jobID string) {
	o.h.trace(EventError, jobID, map[string]any{"message": message})
}
