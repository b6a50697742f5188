package websocket

import "sync/atomic"

// Counter hands out connection identifiers. Identifiers start at zero,
// increase monotonically and are never reused by the same Counter.
// They are meant for logs and diagnostics only.
type Counter struct {
	n atomic.Uint64
}

// Next returns the next identifier.
func (c *Counter) Next() uint64 {
	return c.n.Add(1) - 1
}
