package model

import "time"

// Status enumerates the lifecycle states of a waiting-list entry.
// Entries move strictly forward through the machine:
//
//	waiting → offered → purchased
//	offered → expired
//	waiting|offered → cancelled
//
// purchased, expired and cancelled are terminal.  Terminal entries are
// retained for audit and statistics; a requester must join again to
// obtain a new entry.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusOffered   Status = "offered"
	StatusPurchased Status = "purchased"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Active reports whether the status counts against the one-active-entry
// rule for a (event, requester) pair.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusOffered
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPurchased || s == StatusExpired || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal edge
// of the state machine.  Self-transitions are not legal; re-running an
// operation against a row already in the target state must be handled
// as a no-op by the caller, not as a transition.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusOffered || next == StatusCancelled
	case StatusOffered:
		return next == StatusPurchased || next == StatusExpired || next == StatusCancelled
	default:
		return false
	}
}

// WaitingListEntry is one requester's place in the admission queue for
// a pool.  At most one entry per (event, requester) may be in an
// active status at a time; the store enforces this with a unique
// index and the admission controller treats the resulting constraint
// violation as "already active".
//
// Fields:
//
//	ID             – opaque unique identifier assigned at creation.
//	EventID        – the event whose tickets this entry competes for.
//	RequesterID    – opaque requester identity (user id or guest session id).
//	TicketType     – optional sub-pool discriminator; empty means the
//	                 event-wide pool.
//	Quantity       – number of tickets requested (≥ 1).
//	Status         – current state (see Status).
//	OfferExpiresAt – set iff Status is offered; absolute deadline for
//	                 completing the purchase.
//	CreatedAt      – insertion time; FIFO order derives from it.
//	UpdatedAt      – last transition time.
type WaitingListEntry struct {
	ID             string
	EventID        string
	RequesterID    string
	TicketType     string
	Quantity       int
	Status         Status
	OfferExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pool returns the capacity pool this entry contends for.
func (e *WaitingListEntry) Pool() Pool {
	return Pool{EventID: e.EventID, TicketType: e.TicketType}
}

// OfferExpired reports whether the entry holds an offer whose window
// has elapsed at the given instant.  An offer is live strictly before
// its deadline and expired from the deadline on, so an entry is never
// both held and expired.  Entries in any other state are never
// considered expired by this method.
func (e *WaitingListEntry) OfferExpired(now time.Time) bool {
	return e.Status == StatusOffered && e.OfferExpiresAt != nil && !e.OfferExpiresAt.After(now)
}

// Before reports whether e precedes other in FIFO order.  Creation time
// orders entries; the id breaks ties so the order is total and stable.
func (e *WaitingListEntry) Before(other *WaitingListEntry) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.ID < other.ID
	}
	return e.CreatedAt.Before(other.CreatedAt)
}
