// Package pathref converts between absolute paths and document-relative
// references so an experiment tree stays portable when copied or moved.
//
// A base is always the location of a document, never a directory: a
// reference stored inside /exp/data/a.md.json is resolved against /exp/data.
//
// References are persisted with forward slashes regardless of platform.
package pathref
