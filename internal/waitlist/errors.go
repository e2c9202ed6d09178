// Package waitlist implements the admission-control engine for event
// ticket waiting lists: joining the queue, converting queued entries
// into time-boxed purchase offers, expiring stale offers and promoting
// the next waiting requester when capacity frees up.
//
// The engine owns the decision logic and the state machine; durability
// and atomicity are delegated to a Store implementation.  These
// sentinel errors cross the Store boundary so that handlers can
// distinguish failure scenarios without inspecting driver errors.
package waitlist

import "errors"

// ErrAlreadyActive is returned by Store.Insert when the requester
// already holds a waiting or offered entry for the event.  The engine
// treats it as a benign signal and resolves it by fetching the existing
// entry; handlers should never see it as a failure.
var ErrAlreadyActive = errors.New("requester already has an active entry")

// ErrEntryNotFound is returned when no entry exists for the given id.
var ErrEntryNotFound = errors.New("waiting-list entry not found")

// ErrNoActiveEntry is returned when an operation requires an active
// (waiting or offered) entry and the requester holds none.
var ErrNoActiveEntry = errors.New("no active entry for requester")

// ErrOfferExpired is returned when a purchase-completion signal arrives
// for an entry whose offer has already been expired by the sweeper.
// The requester must join again; offers are never silently extended.
var ErrOfferExpired = errors.New("offer has expired")

// ErrInvalidTransition is returned when a requested transition is not
// an edge of the state machine, e.g. purchasing a cancelled entry.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrPoolNotFound is returned when the capacity row for the requested
// event or ticket type does not exist.
var ErrPoolNotFound = errors.New("capacity pool not found")

// ErrCapacityInvariant signals that offered quantity was observed in
// excess of pool capacity.  Given the atomic admission path this is
// structurally impossible; seeing it means the store lost atomicity and
// the condition must be alerted on, never silently tolerated.
var ErrCapacityInvariant = errors.New("offered quantity exceeds pool capacity")
