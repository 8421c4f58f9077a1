package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs_Sequence(t *testing.T) {
	gen := NewSequentialIDs()

	assert.Equal(t, "00000000-0000-0000-0000-000000000001", gen.NewID())
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", gen.NewID())
	assert.Equal(t, SequentialID(3), gen.NewID())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialIDs()
	const numGoroutines = 20
	const callsPerGoroutine = 50

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				id := gen.NewID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, numGoroutines*callsPerGoroutine)
}

func TestFixedClock_Stable(t *testing.T) {
	var c FixedClock
	assert.Equal(t, c.Now(), c.Now())
	assert.Equal(t, "2024-03-14", c.Now().Format("2006-01-02"))
}
