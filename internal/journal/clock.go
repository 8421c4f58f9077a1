package journal

import "sync/atomic"

// Clock supplies logical sequence numbers.
type Clock interface {
	Next() int64
}

// SeqClock is a monotonic logical clock safe for concurrent use.
type SeqClock struct {
	seq atomic.Int64
}

// NewSeqClockAt creates a clock whose next value is start+1.
// Used to resume numbering after the last persisted sequence.
func NewSeqClockAt(start int64) *SeqClock {
	c := &SeqClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *SeqClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *SeqClock) Current() int64 {
	return c.seq.Load()
}
