// Package harness runs YAML scenarios against a real store and executor.
//
// A scenario creates an experiment in a scratch workspace, then executes its
// steps in order. Every step, backend invocation and job notification is
// appended to a trace stamped with a deterministic logical clock.
//
// # Scenario Format
//
//	name: tag_and_count
//	description: "Raw files are filtered by tag and counted"
//	experiment:
//	  name: Golden
//	  keys: [Population]
//	tools:
//	  - tools/count.cue
//	steps:
//	  - import: {name: cell1, format: textfile, content: "1\n", tags: {Population: population1}}
//	  - query: {dataset: data, query: "Population=population1", expect: [cell1]}
//	  - run:
//	      tool: count
//	      dataset: counts
//	      inputs: [{name: in, dataset: data, query: "Population=population1"}]
//	      expect: {status: ok, outputs: 1}
//	  - lineage: {dataset: counts, data: cell1_out, expect: [cell1]}
//	assertions:
//	  - type: trace_count
//	    event: exec
//	    count: 1
//	  - type: dataset_size
//	    dataset: counts
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: an event of the given type (and subject) was traced
//   - trace_order: event types first appear in the given order
//   - trace_count: an event type appears exactly N times
//   - dataset_size: a dataset holds exactly N entries at the end
//
// # Deterministic Testing
//
// Record ids come from testutil.SequentialIDs, record dates from
// testutil.FixedClock, job ids are job-1, job-2, ... and the scratch
// workspace path is replaced by $WORKSPACE in traced strings. Tools never
// run: the backend records argv and fails only tuples listed in fail_on.
// Identical scenarios produce identical traces, which makes them suitable
// for golden comparison.
package harness
