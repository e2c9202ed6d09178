package model

// Pool identifies a unit of contended capacity: an event, or an
// event + ticket-type pair when the event sells typed tickets.  All
// admission accounting (remaining capacity, FIFO order, promotion) is
// scoped to one pool.
type Pool struct {
	EventID    string
	TicketType string // empty for the event-wide pool
}

// EventCapacity is the read-only capacity view of a pool, sourced from
// the events / event_ticket_types tables which this service never
// administers.
//
// Remaining capacity for admission purposes is
//
//	TotalTickets − TicketsCommitted − quantity held by active offers
//
// where the active-offer quantity comes from the waiting-list rows, not
// from this struct.  Offered-but-unpurchased quantity is reserved: it
// counts against capacity so the pool can never be oversold.
type EventCapacity struct {
	Pool             Pool
	TotalTickets     int
	TicketsCommitted int
}

// Uncommitted returns total minus committed, before subtracting active
// offers.
func (c EventCapacity) Uncommitted() int {
	return c.TotalTickets - c.TicketsCommitted
}
