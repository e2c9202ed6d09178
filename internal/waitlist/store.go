package waitlist

import (
	"context"
	"time"

	"github.com/iliyamo/event-waitlist/internal/model"
)

// Store is the durability contract the engine runs against.  The
// production implementation lives in internal/repository and is backed
// by MySQL; an in-memory implementation in this package backs tests and
// local development.
//
// Two atomicity guarantees are required of every implementation:
//
//  1. WithPool serializes all capacity-affecting work for one pool.
//     Two concurrent WithPool calls for the same pool must not observe
//     each other's intermediate state; this is what makes the
//     capacity-check-and-insert of a join a single atomic unit instead
//     of a read-then-write race.
//  2. Insert enforces at most one active entry per (event, requester)
//     and reports a violation as ErrAlreadyActive, so a duplicate join
//     that loses a race degrades to "fetch the existing entry".
//
// All remaining methods are single conditional operations that are
// safe to retry.
type Store interface {
	// WithPool runs fn inside the pool's critical section.  Mutations
	// made through the PoolTx are committed when fn returns nil and
	// discarded when it returns an error.
	WithPool(ctx context.Context, pool model.Pool, fn func(PoolTx) error) error

	// Entry returns the entry with the given id, or ErrEntryNotFound.
	Entry(ctx context.Context, id string) (*model.WaitingListEntry, error)

	// ActiveEntry returns the requester's waiting or offered entry for
	// the event, or nil when the requester holds none.
	ActiveEntry(ctx context.Context, eventID, requesterID string) (*model.WaitingListEntry, error)

	// Transition compare-and-sets the entry's status: the update
	// applies only when the current status is one of from.  It returns
	// the entry as it stands after the call and whether the update
	// applied.  offerExpiresAt must be non-nil exactly when to is
	// StatusOffered.
	Transition(ctx context.Context, id string, from []model.Status, to model.Status, offerExpiresAt *time.Time) (*model.WaitingListEntry, bool, error)

	// ExpireOffers transitions every offered entry whose window has
	// elapsed at now to expired, in one conditional bulk operation,
	// and returns the entries it transitioned.  Re-running it with no
	// intervening mutation is a no-op.
	ExpireOffers(ctx context.Context, now time.Time) ([]*model.WaitingListEntry, error)

	// PoolsWithWaiting lists the pools that currently have at least
	// one waiting entry, so a sweep knows where promotion may apply.
	PoolsWithWaiting(ctx context.Context) ([]model.Pool, error)

	// WaitingPosition derives the 1-based FIFO position of a waiting
	// entry within its pool.  Positions are derived per read, never
	// stored, so they cannot be renumbered inconsistently.
	WaitingPosition(ctx context.Context, entry *model.WaitingListEntry) (int, error)

	// EventStats aggregates waiting and non-expired offered counts per
	// pool of the event, re-derived from the rows on every call.
	EventStats(ctx context.Context, eventID string, now time.Time) ([]PoolStats, error)
}

// PoolTx is the store view available inside a pool's critical section.
type PoolTx interface {
	// Capacity reads the pool's total and committed ticket counts.
	// Returns ErrPoolNotFound when the pool does not exist.
	Capacity(ctx context.Context) (model.EventCapacity, error)

	// OfferedQuantity sums the quantity held by the pool's offered,
	// non-expired entries at now.
	OfferedQuantity(ctx context.Context, now time.Time) (int, error)

	// OldestWaiting returns the pool's first waiting entry in FIFO
	// order (created_at, then id), or nil when none is waiting.
	OldestWaiting(ctx context.Context) (*model.WaitingListEntry, error)

	// Insert adds a new entry.  Returns ErrAlreadyActive when the
	// requester already holds an active entry for the event.
	Insert(ctx context.Context, e *model.WaitingListEntry) error

	// Offer compare-and-sets a waiting entry to offered with the given
	// expiry.  Returns false when the entry was no longer waiting.
	Offer(ctx context.Context, id string, expiresAt time.Time) (bool, error)

	// Purchase compare-and-sets an offered entry to purchased.  Returns
	// false when the entry was no longer offered.
	Purchase(ctx context.Context, id string) (bool, error)

	// AddCommitted adds qty to the pool's committed ticket count.  Runs
	// in the same critical section as the Purchase that sold them, so
	// the quantity moves from offered-held to committed atomically.
	AddCommitted(ctx context.Context, qty int) error
}

// PoolStats is the observer-side aggregate for one pool.
type PoolStats struct {
	Pool    model.Pool `json:"pool"`
	Waiting int        `json:"waiting"`
	Offered int        `json:"offered"`
}
