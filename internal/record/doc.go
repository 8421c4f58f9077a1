// Package record defines the experiment data model: experiments, datasets,
// raw and processed data, and runs.
//
// Relationships between records are {location, uuid} pairs and never
// embedded copies. Locations held by these types are always absolute; the
// store converts them to document-relative references when persisting.
//
// RawData and ProcessedData share the Data shape and are handled through the
// DataRecord interface, which carries an explicit Kind discriminant used for
// provenance dispatch.
package record
