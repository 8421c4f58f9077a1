// Package store persists experiments as a portable tree of JSON documents.
//
// Every record (Experiment, Dataset, RawData, ProcessedData, Run) is one
// UTF-8 JSON document addressed by its file path. A typical tree:
//
//	myexperiment/
//	  experiment.md.json
//	  data/
//	    raw_dataset.md.json
//	    cell1.md.json
//	    cell1.tif
//	  denoise/
//	    processed_dataset.md.json
//	    run.md.json
//	    cell1_denoised.md.json
//	    cell1_denoised.tif
//
// # Portability
//
// Paths inside documents are stored relative to the document that holds
// them (see internal/pathref), so a tree can be copied to a new root without
// rewriting anything. Payloads imported without copy stay absolute. Records
// returned to callers always carry absolute locations.
//
// # Concurrency
//
//   - Run and data documents are claimed with O_CREATE|O_EXCL, so two
//     writers can never receive the same document name.
//   - Dataset and experiment appends are read-modify-write and are
//     serialized per document inside one Store. Separate processes writing
//     the same dataset still need external coordination.
//   - Every document write goes through a temp file and rename.
//
// # Tag defaults
//
// A RawData read through the store carries an empty value for every
// experiment key it does not persist. These defaults are never written back
// unless a caller sets them.
package store
