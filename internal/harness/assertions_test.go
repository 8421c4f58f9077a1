package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventImport, Subject: "cell1"},
		{Seq: 2, Type: EventQuery, Subject: "data"},
		{Seq: 3, Type: EventExec, Subject: "count"},
		{Seq: 4, Type: EventProgress, Subject: "job-1"},
		{Seq: 5, Type: EventExec, Subject: "count"},
		{Seq: 6, Type: EventNotify, Subject: "job-1"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Event: EventQuery}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: EventNotify, Subject: "job-1"}))

	err := assertTraceContains(trace, Assertion{Event: EventNotify, Subject: "job-2"})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "notify job-2", ae.Expected)
	assert.Contains(t, err.Error(), "[3] exec count")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{EventImport, EventExec, EventNotify}}))

	err := assertTraceOrder(trace, Assertion{Events: []string{EventExec, EventQuery}})
	assert.ErrorContains(t, err, "exec (pos 3) should be before query (pos 2)")

	err = assertTraceOrder(trace, Assertion{Events: []string{EventImport, EventLineage}})
	assert.ErrorContains(t, err, "missing event: lineage")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: EventExec, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: EventError, Count: 0}))
	assert.ErrorContains(t, assertTraceCount(trace, Assertion{Event: EventExec, Count: 1}), "2 occurrences")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Event: EventExec, Count: 2},
		{Type: AssertTraceContains, Event: EventLineage},
		{Type: AssertDatasetSize, Dataset: "data", Count: 1},
		{Type: "bogus"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "assertions[1]")
	assert.Contains(t, errs[1], "requires a store")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
