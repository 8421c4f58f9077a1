package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/expkit/internal/query"
	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/store"
)

// Store is the subset of the record store used by the executor.
type Store interface {
	query.Reader
	GetDatasetByName(ctx context.Context, exp *record.Experiment, name string) (*record.Dataset, error)
	CreateDataset(ctx context.Context, exp *record.Experiment, name string) (*record.Dataset, error)
	CreateRun(ctx context.Context, ds *record.Dataset, draft *record.Run) (*record.Run, error)
	CreateProcessedData(ctx context.Context, ds *record.Dataset, run *record.Run, draft *record.ProcessedData) (*record.ProcessedData, error)
	Formats() *store.FormatRegistry
}

// Status is the terminal state of a job.
type Status string

const (
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// JobInfo identifies a job to a Journal.
type JobInfo struct {
	ID         string
	Experiment string
	Tool       string
	Mode       Mode
	Dataset    string
}

// Journal records job boundaries and tuple outcomes. Journal failures are
// logged and never fail a job.
type Journal interface {
	StartJob(ctx context.Context, info JobInfo) error
	RecordTuple(ctx context.Context, jobID string, index int, tupleErr error) error
	FinishJob(ctx context.Context, jobID string, status Status) error
}

// Config configures an Executor.
type Config struct {
	Store   Store
	Backend Backend

	// Observer receives notifications. Optional.
	Observer Observer

	// Journal records job history. Optional.
	Journal Journal

	// Metrics records executor activity. Optional.
	Metrics *Metrics

	// Env provides additional template variables.
	Env map[string]string

	// NewID generates job identifiers. Defaults to uuid.NewString.
	NewID func() string

	Logger *slog.Logger
}

// Executor runs tools against experiment records.
type Executor struct {
	store    Store
	backend  Backend
	engine   *query.Engine
	observer Observer
	journal  Journal
	metrics  *Metrics
	env      map[string]string
	newID    func() string
	log      *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	e := &Executor{
		store:    cfg.Store,
		backend:  cfg.Backend,
		observer: cfg.Observer,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		env:      cfg.Env,
		newID:    cfg.NewID,
		log:      cfg.Logger,
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.engine = query.NewEngine(cfg.Store, e.log)
	return e
}

// InputSpec binds a named tool input to a query over a dataset.
type InputSpec struct {
	Name         string
	Dataset      string
	Query        string
	OriginOutput string
}

// Request describes one job.
type Request struct {
	Experiment *record.Experiment
	Tool       *ToolDescriptor

	// Dataset names the destination dataset. Defaults to the tool name. An
	// existing dataset is reused.
	Dataset string

	Inputs     []InputSpec
	Parameters []record.Parameter
	Author     string
}

// Report summarizes a job.
type Report struct {
	JobID   string
	Mode    Mode
	Dataset *record.Dataset
	Run     *record.Run
	Outputs []*record.ProcessedData

	// Tuples is the number of tool invocations attempted.
	Tuples int

	// Failures lists failed tuples of a sequential job.
	Failures []*TupleError
}

// Status derives the terminal status from the failures.
func (r *Report) Status() Status {
	switch {
	case len(r.Failures) == 0:
		return StatusOK
	case len(r.Failures) < r.Tuples:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Run executes req.
//
// Input resolution, cardinality and format checks complete before any
// record is written. In sequential mode tuple failures are collected in
// Report.Failures and Run returns a nil error; in merge mode a failed
// invocation is returned as an error.
//
// Thread-safety: concurrent Runs are safe as long as the Backend is. Each
// Run gets its own run document, and output names that collide with an
// earlier run in the same dataset are suffixed with the run stem.
//
// Parameters:
//   - ctx: cancellation is checked between tuples; a cancelled sequential
//     job keeps the outputs already produced
//   - req: experiment, tool, named inputs (with optional query and origin
//     output filters), parameter overrides and author
//
// Returns:
//   - *Report: run, dataset, outputs, per-tuple failures and final status
//   - error: validation, store or merge execution failures
func (e *Executor) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Experiment == nil || req.Tool == nil {
		return nil, fmt.Errorf("run job: experiment and tool are required")
	}
	tool := req.Tool
	jobID := e.newID()
	mode := tool.EffectiveMode()
	log := e.log.With("job", jobID, "tool", tool.FullName(), "mode", mode)

	fail := func(err error) (*Report, error) {
		e.observer.NotifyError(err.Error(), jobID)
		e.metrics.jobFinished(tool.FullName(), mode, string(StatusFailed))
		return nil, err
	}

	if len(req.Inputs) == 0 {
		return fail(record.Errorf(record.CodeNoInputsSpecified, "run job", "", "tool %s has no named inputs", tool.FullName()))
	}
	if err := checkInputNames(tool, req.Inputs); err != nil {
		return fail(err)
	}
	params, err := resolveParameters(tool, req.Parameters)
	if err != nil {
		return fail(err)
	}
	if err := e.checkTemplate(tool, req.Inputs, params); err != nil {
		return fail(err)
	}

	matched, err := e.resolveInputs(ctx, req)
	if err != nil {
		return fail(err)
	}
	if mode == ModeMerge {
		if err := e.checkMergeable(matched); err != nil {
			return fail(err)
		}
	}

	if err := e.backend.SetUp(ctx, tool, jobID); err != nil {
		return fail(record.Wrap(record.CodeExecutionFailure, "set up "+tool.FullName(), "", err))
	}
	defer func() {
		if err := e.backend.TearDown(context.WithoutCancel(ctx), tool, jobID); err != nil {
			log.Warn("tear down failed", "error", err)
		}
	}()

	ds, err := e.destination(ctx, req)
	if err != nil {
		return fail(err)
	}
	run, err := e.store.CreateRun(ctx, ds, runDraft(tool, req.Inputs, params))
	if err != nil {
		return fail(err)
	}

	e.journalStart(ctx, log, JobInfo{ID: jobID, Experiment: req.Experiment.Location, Tool: tool.FullName(), Mode: mode, Dataset: ds.Name})
	log.Info("job started", "dataset", ds.Name, "run", run.Location, "matched", len(matched[0]))

	report := &Report{JobID: jobID, Mode: mode, Dataset: ds, Run: run}
	vars := e.baseVars(tool, params)

	if mode == ModeMerge {
		err = e.runMerge(ctx, req, jobID, matched, vars, report)
	} else {
		err = e.runSequential(ctx, req, jobID, matched, vars, report)
	}

	status := report.Status()
	if err != nil {
		status = StatusFailed
	}
	e.journalFinish(ctx, log, jobID, status)
	e.metrics.jobFinished(tool.FullName(), mode, string(status))

	if err != nil {
		e.observer.NotifyError(err.Error(), jobID)
		log.Error("job failed", "error", err)
		return report, err
	}
	e.observer.Notify("done", jobID)
	log.Info("job finished", "status", status, "tuples", report.Tuples, "failures", len(report.Failures), "outputs", len(report.Outputs))
	return report, nil
}

func (e *Executor) runSequential(ctx context.Context, req Request, jobID string, matched [][]record.DataRecord, base Vars, report *Report) error {
	n := len(matched[0])
	for i := range n {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run job: cancelled after %d of %d tuples: %w", i, n, err)
		}

		primary := matched[0][i].Meta()
		vars := cloneVars(base)
		inputs := make([]record.Input, len(req.Inputs))
		for k, spec := range req.Inputs {
			rec := matched[k][i]
			inputs[k] = record.Input{
				Name:     spec.Name,
				Location: rec.Meta().Location,
				UUID:     rec.Meta().UUID,
				Kind:     rec.Kind(),
			}
			vars.Set(spec.Name, rec.Meta().PayloadURI)
		}

		report.Tuples++
		err := e.createOutputs(ctx, req, report, primary.Name+"_", inputs, vars)
		if err == nil {
			err = e.execute(ctx, req.Tool, vars, jobID)
		}
		if err != nil {
			te := &TupleError{Index: i, Name: primary.Name, Err: err}
			report.Failures = append(report.Failures, te)
			e.observer.NotifyError(te.Error(), jobID)
		}
		e.journalTuple(ctx, jobID, i, err)

		e.observer.NotifyProgress(100*(i+1)/n, fmt.Sprintf("processed %s (%d/%d)", primary.Name, i+1, n), jobID)
	}
	return nil
}

func (e *Executor) runMerge(ctx context.Context, req Request, jobID string, matched [][]record.DataRecord, vars Vars, report *Report) error {
	e.observer.NotifyProgress(0, "start", jobID)

	stem := runStem(report.Run)
	inputs := make([]record.Input, 0, len(req.Inputs))
	for k, spec := range req.Inputs {
		values := make([]string, 0, len(matched[k]))
		for _, rec := range matched[k] {
			data, err := os.ReadFile(rec.Meta().PayloadURI)
			if err != nil {
				return fmt.Errorf("merge input %s: %w", spec.Name, err)
			}
			values = append(values, mergeValue(string(data)))
		}

		scratch := filepath.Join(report.Dataset.Dir(), fmt.Sprintf("%s_%s.csv", stem, store.SanitizeName(spec.Name)))
		if err := os.WriteFile(scratch, []byte(strings.Join(values, ",")), 0o644); err != nil {
			return fmt.Errorf("merge input %s: %w", spec.Name, err)
		}
		inputs = append(inputs, record.Input{Name: spec.Name, Location: scratch, Kind: record.KindMerged})
		vars.Set(spec.Name, scratch)
	}

	report.Tuples = 1
	if err := e.createOutputs(ctx, req, report, "", inputs, vars); err != nil {
		return err
	}
	if err := e.execute(ctx, req.Tool, vars, jobID); err != nil {
		report.Failures = append(report.Failures, &TupleError{Index: 0, Name: req.Tool.FullName(), Err: err})
		e.journalTuple(ctx, jobID, 0, err)
		return err
	}
	e.journalTuple(ctx, jobID, 0, nil)
	e.observer.NotifyProgress(100, "merged "+strings.Join(inputNames(req.Inputs), ", "), jobID)
	return nil
}

func inputNames(inputs []InputSpec) []string {
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
	}
	return names
}

// mergeValue strips line breaks and spaces from a scalar payload.
func mergeValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(s)
}

// createOutputs persists one ProcessedData per declared output and binds
// its payload URI in vars. An output name already taken in the dataset by an
// earlier run is suffixed with the run stem (cell1_o becomes cell1_o_run_1).
// The first store failure aborts the remaining outputs.
func (e *Executor) createOutputs(ctx context.Context, req Request, report *Report, namePrefix string, inputs []record.Input, vars Vars) error {
	for _, out := range req.Tool.Outputs {
		draft := &record.ProcessedData{
			Data: record.Data{
				Name:   namePrefix + out.Name,
				Author: req.Author,
				Format: out.Format,
			},
			Inputs: inputs,
			Output: record.Output{Name: out.Name, Label: out.Description},
		}
		pd, err := e.store.CreateProcessedData(ctx, report.Dataset, report.Run, draft)
		if record.IsAlreadyExists(err) {
			draft.Name += "_" + runStem(report.Run)
			pd, err = e.store.CreateProcessedData(ctx, report.Dataset, report.Run, draft)
		}
		if err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, pd)
		e.metrics.outputCreated(req.Tool.FullName())
		vars.Set(out.Name, pd.PayloadURI)
	}
	return nil
}

// runStem is the run document name without its suffix: run, run_1, ...
func runStem(run *record.Run) string {
	return strings.TrimSuffix(filepath.Base(run.Location), store.DocSuffix)
}

func (e *Executor) execute(ctx context.Context, tool *ToolDescriptor, vars Vars, jobID string) error {
	argv, err := BuildCommand(tool.Command, vars)
	if err != nil {
		return err
	}
	start := time.Now()
	err = e.backend.Execute(ctx, tool, argv, jobID)
	e.metrics.tupleFinished(tool.FullName(), err == nil, time.Since(start))
	if err != nil {
		return record.Wrap(record.CodeExecutionFailure, "execute "+tool.FullName(), "", err)
	}
	return nil
}

// resolveInputs queries every input and enforces equal match counts.
func (e *Executor) resolveInputs(ctx context.Context, req Request) ([][]record.DataRecord, error) {
	matched := make([][]record.DataRecord, len(req.Inputs))
	for k, spec := range req.Inputs {
		ds, err := e.store.GetDatasetByName(ctx, req.Experiment, spec.Dataset)
		if err != nil {
			return nil, fmt.Errorf("resolve input %s: %w", spec.Name, err)
		}
		recs, err := e.engine.Select(ctx, ds, spec.Query, spec.OriginOutput)
		if err != nil {
			return nil, fmt.Errorf("resolve input %s: %w", spec.Name, err)
		}
		if k > 0 && len(recs) != len(matched[0]) {
			return nil, record.Errorf(record.CodeCardinalityMismatch, "resolve inputs", "",
				"input %s matched %d records, input %s matched %d", spec.Name, len(recs), req.Inputs[0].Name, len(matched[0]))
		}
		matched[k] = recs
	}
	return matched, nil
}

func (e *Executor) checkMergeable(matched [][]record.DataRecord) error {
	formats := e.store.Formats()
	for _, recs := range matched {
		for _, rec := range recs {
			f, ok := formats.Lookup(rec.Meta().Format)
			if !ok || !f.Textual {
				return record.Errorf(record.CodeInvalidFormat, "merge inputs", rec.Meta().Location,
					"format %q cannot be merged", rec.Meta().Format)
			}
		}
	}
	return nil
}

// checkTemplate expands the command template with every name bound, so that
// a template referencing an unknown name fails before any record is written.
func (e *Executor) checkTemplate(tool *ToolDescriptor, inputs []InputSpec, params []record.Parameter) error {
	vars := e.baseVars(tool, params)
	for _, in := range inputs {
		vars.Set(in.Name, in.Name)
	}
	for _, out := range tool.Outputs {
		vars.Set(out.Name, out.Name)
	}
	if _, err := BuildCommand(tool.Command, vars); err != nil {
		return fmt.Errorf("tool %s: %w", tool.FullName(), err)
	}
	return nil
}

func (e *Executor) destination(ctx context.Context, req Request) (*record.Dataset, error) {
	name := req.Dataset
	if name == "" {
		name = req.Tool.Name
	}
	ds, err := e.store.GetDatasetByName(ctx, req.Experiment, name)
	if err == nil {
		return ds, nil
	}
	if !record.IsNotFound(err) {
		return nil, err
	}
	return e.store.CreateDataset(ctx, req.Experiment, name)
}

func (e *Executor) baseVars(tool *ToolDescriptor, params []record.Parameter) Vars {
	vars := make(Vars, len(e.env)+len(params)+1)
	for k, v := range e.env {
		vars[k] = v
	}
	vars[ToolDirectoryVar] = tool.Dir()
	for _, p := range params {
		vars.Set(p.Name, p.Value)
	}
	return vars
}

func cloneVars(v Vars) Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func checkInputNames(tool *ToolDescriptor, inputs []InputSpec) error {
	declared := tool.DataInputs()
	for _, in := range inputs {
		if in.Name == "" {
			return fmt.Errorf("run job: input bound to dataset %q has no name", in.Dataset)
		}
		if len(declared) > 0 && !slices.ContainsFunc(declared, func(p Port) bool { return p.Name == in.Name }) {
			return fmt.Errorf("run job: tool %s has no data input %q", tool.FullName(), in.Name)
		}
	}
	return nil
}

// resolveParameters returns the declared parameters in declaration order,
// each with its supplied value or default.
func resolveParameters(tool *ToolDescriptor, given []record.Parameter) ([]record.Parameter, error) {
	values := make(map[string]string, len(given))
	for _, p := range given {
		values[p.Name] = p.Value
	}
	out := make([]record.Parameter, 0, len(tool.Parameters))
	for _, decl := range tool.Parameters {
		v, ok := values[decl.Name]
		if !ok {
			v = decl.Default
		}
		delete(values, decl.Name)
		out = append(out, record.Parameter{Name: decl.Name, Value: v})
	}
	if len(values) > 0 {
		unknown := make([]string, 0, len(values))
		for k := range values {
			unknown = append(unknown, k)
		}
		slices.Sort(unknown)
		return nil, fmt.Errorf("run job: tool %s has no parameter %s", tool.FullName(), strings.Join(unknown, ", "))
	}
	return out, nil
}

func runDraft(tool *ToolDescriptor, inputs []InputSpec, params []record.Parameter) *record.Run {
	run := &record.Run{
		ProcessName: tool.FullName(),
		ProcessURI:  tool.URI,
		Parameters:  params,
	}
	for _, in := range inputs {
		run.Inputs = append(run.Inputs, record.RunInput{
			Name:             in.Name,
			DatasetName:      in.Dataset,
			Query:            in.Query,
			OriginOutputName: in.OriginOutput,
		})
	}
	return run
}

func (e *Executor) journalStart(ctx context.Context, log *slog.Logger, info JobInfo) {
	if e.journal == nil {
		return
	}
	if err := e.journal.StartJob(ctx, info); err != nil {
		log.Warn("journal start failed", "error", err)
	}
}

func (e *Executor) journalTuple(ctx context.Context, jobID string, index int, tupleErr error) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordTuple(ctx, jobID, index, tupleErr); err != nil {
		e.log.Warn("journal tuple failed", "job", jobID, "index", index, "error", err)
	}
}

func (e *Executor) journalFinish(ctx context.Context, log *slog.Logger, jobID string, status Status) {
	if e.journal == nil {
		return
	}
	if err := e.journal.FinishJob(context.WithoutCancel(ctx), jobID, status); err != nil {
		log.Warn("journal finish failed", "error", err)
	}
}
