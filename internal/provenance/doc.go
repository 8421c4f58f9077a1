// Package provenance walks the links between processed data and the records
// they were derived from.
//
// A ProcessedData lists its inputs; inputs[0] is the primary input and the
// chain of primary inputs leads back to the originating RawData. Inputs of
// kind merged point at aggregation scratch files and end the walk.
package provenance
