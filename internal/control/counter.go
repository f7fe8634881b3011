package control

import "sync/atomic"

// msgIDCounter hands out monotonically increasing request identifiers.
// The original derived msgId by XORing an uninitialized stack word with a
// context handle (spec §9 open question 2); a plain monotonic counter is
// simpler and free of that bug.
type msgIDCounter struct {
	next atomic.Uint32
}

// Next returns the next message id, starting at 1 (0 is reserved to mean
// "no id", e.g. on an unsolicited push).
func (c *msgIDCounter) Next() uint32 {
	return c.next.Add(1)
}
