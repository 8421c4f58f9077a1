// Package job runs a tool over records selected from an experiment and
// records the provenance of everything it produces.
//
// # Modes
//
// Sequential (default): every named input is resolved by a query to a list
// of records; the lists must have equal length. The tool runs once per
// aligned tuple, producing one ProcessedData per declared output. A failed
// tuple is reported and the batch continues.
//
// Merge: the payloads of every matched record of an input are concatenated
// into one scratch file, the tool runs once against the scratch files, and
// one ProcessedData per declared output is created. Only textual formats can
// be merged.
//
// Each execution appends exactly one Run document to the destination
// dataset. Progress and completion are reported through Observer.
package job
