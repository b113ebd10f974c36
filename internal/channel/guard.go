package channel

import "sync/atomic"

// Generation stamps asynchronous loads so that a result is applied only if no
// newer selection happened while it was in flight. Requests are never
// cancelled; late results are dropped.
type Generation struct {
	n atomic.Uint64
}

// Ticket is the generation a request was issued under.
type Ticket struct {
	g *Generation
	n uint64
}

// Next starts a new selection and returns its ticket. Every ticket issued
// before it becomes stale.
func (g *Generation) Next() Ticket {
	return Ticket{g: g, n: g.n.Add(1)}
}

// Current returns a ticket for the live generation without advancing it.
// Background work (polling, re-syncs) uses it to bind to the current
// selection.
func (g *Generation) Current() Ticket {
	return Ticket{g: g, n: g.n.Load()}
}

// Valid reports whether no selection happened since the ticket was issued.
func (t Ticket) Valid() bool {
	return t.g != nil && t.g.n.Load() == t.n
}

// Value returns the generation number the ticket carries.
func (t Ticket) Value() uint64 {
	return t.n
}
