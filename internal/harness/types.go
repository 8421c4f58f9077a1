package harness

// Trace event types.
const (
	EventImport   = "import"
	EventTag      = "tag"
	EventQuery    = "query"
	EventRun      = "run"
	EventExec     = "exec"
	EventLineage  = "lineage"
	EventNotify   = "notify"
	EventProgress = "progress"
	EventError    = "error"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Subject string         `json:"subject,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
