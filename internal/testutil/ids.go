package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates UUID-shaped identifiers in sequence:
// 00000000-0000-0000-0000-000000000001, ...000002, and so on.
//
// Satisfies store.IDGenerator. The same sequence of store calls with the
// same generator produces byte-identical documents.
type SequentialIDs struct {
	mu sync.Mutex
	n  int
}

// NewSequentialIDs creates a generator whose first id ends in 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// NewID returns the next identifier.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return SequentialID(g.n)
}

// SequentialID formats the n-th identifier of a SequentialIDs generator.
func SequentialID(n int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
}
