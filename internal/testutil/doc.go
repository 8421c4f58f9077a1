// Package testutil provides deterministic clocks, identifiers and file
// helpers for tests.
//
// Store documents written with SequentialIDs and FixedClock are
// byte-identical across runs, which keeps golden files stable.
package testutil
