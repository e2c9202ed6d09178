package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-waitlist/internal/model"
)

// DefaultOfferWindow is the canonical length of a purchase offer.  It
// is configurable via OFFER_WINDOW_MIN; 15 minutes is the default.
const DefaultOfferWindow = 15 * time.Minute

// Engine is the admission controller and sweeper for event waiting
// lists.  It is safe for concurrent use from any number of goroutines
// and processes: all coordination happens through the Store's atomic
// primitives, never through in-process state.
type Engine struct {
	store       Store
	offerWindow time.Duration
	now         func() time.Time // swapped in tests
}

// New constructs an Engine over the given store.  A non-positive
// offerWindow falls back to DefaultOfferWindow.
func New(store Store, offerWindow time.Duration) *Engine {
	if store == nil {
		panic("nil store passed to waitlist.New")
	}
	if offerWindow <= 0 {
		offerWindow = DefaultOfferWindow
	}
	return &Engine{store: store, offerWindow: offerWindow, now: time.Now}
}

// OfferWindow returns the configured offer length.
func (e *Engine) OfferWindow() time.Duration { return e.offerWindow }

// JoinRequest carries the parameters of a queue-join attempt.
type JoinRequest struct {
	EventID     string
	RequesterID string
	TicketType  string // empty for the event-wide pool
	Quantity    int
}

// Join admits a requester to the event's queue.  When the pool has
// spare capacity for the requested quantity the entry is created
// directly in the offered state with a fresh expiry; otherwise it is
// created waiting, ordered FIFO by creation.
//
// Join is idempotent per (event, requester): when an active entry
// already exists it is returned unchanged and the second return value
// is true, so callers can distinguish a fresh join from a repeat.
//
// The capacity check and the insert execute as one atomic unit inside
// the pool's critical section; two concurrent joins can therefore
// never both be offered quantity that together exceeds the remaining
// capacity.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*model.WaitingListEntry, bool, error) {
	if req.EventID == "" || req.RequesterID == "" {
		return nil, false, fmt.Errorf("join: event and requester ids are required")
	}
	if req.Quantity < 1 {
		return nil, false, fmt.Errorf("join: quantity must be at least 1, got %d", req.Quantity)
	}

	// Fast path: a repeat join returns the existing entry without
	// entering the pool's critical section.
	if existing, err := e.store.ActiveEntry(ctx, req.EventID, req.RequesterID); err != nil {
		return nil, false, fmt.Errorf("join: lookup active entry: %w", err)
	} else if existing != nil {
		return existing, true, nil
	}

	now := e.now().UTC()
	entry := &model.WaitingListEntry{
		ID:          uuid.NewString(),
		EventID:     req.EventID,
		RequesterID: req.RequesterID,
		TicketType:  req.TicketType,
		Quantity:    req.Quantity,
		Status:      model.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := e.store.WithPool(ctx, entry.Pool(), func(tx PoolTx) error {
		remaining, err := e.remaining(ctx, tx, now)
		if err != nil {
			return err
		}
		if req.Quantity <= remaining {
			exp := now.Add(e.offerWindow)
			entry.Status = model.StatusOffered
			entry.OfferExpiresAt = &exp
		}
		return tx.Insert(ctx, entry)
	})
	if errors.Is(err, ErrAlreadyActive) {
		// Lost a duplicate-join race: the other call's entry is the
		// active one, return it instead of erroring.
		existing, lookupErr := e.store.ActiveEntry(ctx, req.EventID, req.RequesterID)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("join: resolve duplicate entry: %w", lookupErr)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("join: duplicate reported but no active entry found: %w", err)
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("join: %w", err)
	}
	return entry, false, nil
}

// remaining computes the pool's uncommitted capacity minus the
// quantity held by active offers.  Must run inside the pool lock.
func (e *Engine) remaining(ctx context.Context, tx PoolTx, now time.Time) (int, error) {
	capacity, err := tx.Capacity(ctx)
	if err != nil {
		return 0, err
	}
	held, err := tx.OfferedQuantity(ctx, now)
	if err != nil {
		return 0, err
	}
	if held > capacity.Uncommitted() {
		return 0, fmt.Errorf("pool %v holds %d offered against %d uncommitted: %w",
			capacity.Pool, held, capacity.Uncommitted(), ErrCapacityInvariant)
	}
	return capacity.Uncommitted() - held, nil
}

// ExpireStaleOffers transitions every offer whose window has elapsed to
// expired and returns the affected entries.  It is idempotent: calling
// it twice with no intervening mutation leaves the store unchanged the
// second time and returns no entries.
func (e *Engine) ExpireStaleOffers(ctx context.Context, now time.Time) ([]*model.WaitingListEntry, error) {
	expired, err := e.store.ExpireOffers(ctx, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("expire stale offers: %w", err)
	}
	return expired, nil
}

// PromoteNext promotes the pool's oldest waiting entry to offered,
// provided its quantity fits the capacity remaining at execution time.
// FIFO order is strict: when the next entry does not fit, nothing is
// promoted even if a smaller request further back would fit.  Returns
// nil when no promotion happened.
func (e *Engine) PromoteNext(ctx context.Context, pool model.Pool) (*model.WaitingListEntry, error) {
	var promoted *model.WaitingListEntry
	now := e.now().UTC()
	err := e.store.WithPool(ctx, pool, func(tx PoolTx) error {
		remaining, err := e.remaining(ctx, tx, now)
		if err != nil {
			return err
		}
		next, err := tx.OldestWaiting(ctx)
		if err != nil {
			return err
		}
		if next == nil || next.Quantity > remaining {
			return nil
		}
		exp := now.Add(e.offerWindow)
		ok, err := tx.Offer(ctx, next.ID, exp)
		if err != nil {
			return err
		}
		if ok {
			next.Status = model.StatusOffered
			next.OfferExpiresAt = &exp
			next.UpdatedAt = now
			promoted = next
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("promote next in %v: %w", pool, err)
	}
	return promoted, nil
}

// PromotePool promotes waiting entries in FIFO order until the next
// one no longer fits or the pool runs out of waiting entries.
func (e *Engine) PromotePool(ctx context.Context, pool model.Pool) ([]*model.WaitingListEntry, error) {
	var promoted []*model.WaitingListEntry
	for {
		next, err := e.PromoteNext(ctx, pool)
		if err != nil {
			return promoted, err
		}
		if next == nil {
			return promoted, nil
		}
		promoted = append(promoted, next)
	}
}

// SweepResult reports what one sweep pass changed.
type SweepResult struct {
	Expired  []*model.WaitingListEntry
	Promoted []*model.WaitingListEntry
}

// Sweep runs one full sweeper pass: expire every stale offer, then
// promote waiting entries in every pool that has any.  Crash-safe and
// re-runnable: each step is an idempotent conditional operation, so a
// pass interrupted midway is completed by the next one.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	expired, err := e.ExpireStaleOffers(ctx, now)
	if err != nil {
		return res, err
	}
	res.Expired = expired

	pools, err := e.store.PoolsWithWaiting(ctx)
	if err != nil {
		return res, fmt.Errorf("sweep: list pools: %w", err)
	}
	var poolErrs []error
	for _, pool := range pools {
		promoted, err := e.PromotePool(ctx, pool)
		res.Promoted = append(res.Promoted, promoted...)
		if err != nil {
			// Keep sweeping the remaining pools; a failed pool is
			// retried on the next pass.
			poolErrs = append(poolErrs, err)
		}
	}
	return res, errors.Join(poolErrs...)
}

// MarkPurchased records the external payment-success signal for an
// offered entry.  The status change and the pool's committed-capacity
// increment happen in one critical section: the sold quantity moves
// from offered-held to committed without an instant in between where
// it would count as free.  Retries of an already-recorded purchase are
// no-ops and do not commit the quantity twice.  A signal arriving
// after the sweeper expired the offer returns ErrOfferExpired; the
// offer is never resurrected.
func (e *Engine) MarkPurchased(ctx context.Context, entryID string) (*model.WaitingListEntry, error) {
	entry, err := e.store.Entry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("mark purchased: %w", err)
	}
	changed := false
	err = e.store.WithPool(ctx, entry.Pool(), func(tx PoolTx) error {
		ok, err := tx.Purchase(ctx, entry.ID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		changed = true
		return tx.AddCommitted(ctx, entry.Quantity)
	})
	if err != nil {
		return nil, fmt.Errorf("mark purchased: %w", err)
	}
	entry, err = e.store.Entry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("mark purchased: %w", err)
	}
	if changed || entry.Status == model.StatusPurchased {
		return entry, nil
	}
	if entry.Status == model.StatusExpired {
		return entry, ErrOfferExpired
	}
	return entry, fmt.Errorf("mark purchased: entry is %s: %w", entry.Status, ErrInvalidTransition)
}

// MarkAbandoned records the external payment-failure signal, releasing
// the offer by cancelling the entry.  Offers that already expired or
// were cancelled are left as they are, capacity was already freed.
func (e *Engine) MarkAbandoned(ctx context.Context, entryID string) (*model.WaitingListEntry, error) {
	entry, changed, err := e.store.Transition(ctx, entryID,
		[]model.Status{model.StatusOffered}, model.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("mark abandoned: %w", err)
	}
	if changed || entry.Status == model.StatusCancelled || entry.Status == model.StatusExpired {
		return entry, nil
	}
	return entry, fmt.Errorf("mark abandoned: entry is %s: %w", entry.Status, ErrInvalidTransition)
}

// Cancel withdraws the requester's active entry for the event.
// Cancelling an entry the sweeper expired in the meantime succeeds:
// either way the requester ends with no active entry.
func (e *Engine) Cancel(ctx context.Context, eventID, requesterID string) (*model.WaitingListEntry, error) {
	entry, err := e.store.ActiveEntry(ctx, eventID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	if entry == nil {
		return nil, ErrNoActiveEntry
	}
	updated, changed, err := e.store.Transition(ctx, entry.ID,
		[]model.Status{model.StatusWaiting, model.StatusOffered}, model.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	if changed || updated.Status == model.StatusCancelled || updated.Status == model.StatusExpired {
		return updated, nil
	}
	return updated, fmt.Errorf("cancel: entry is %s: %w", updated.Status, ErrInvalidTransition)
}

// RequesterStatus is the observer view of one requester's standing in
// an event's queue, re-derived from the store on every read.
type RequesterStatus struct {
	Entry          *model.WaitingListEntry `json:"entry,omitempty"`
	Position       int                     `json:"position,omitempty"`        // 1-based, waiting entries only
	OfferRemaining time.Duration           `json:"offer_remaining,omitempty"` // offered entries only, clamped at 0
}

// Status reports whether the requester holds an active entry for the
// event and, when they do, its derived queue position or remaining
// offer time.  A nil Entry means no active entry.
func (e *Engine) Status(ctx context.Context, eventID, requesterID string) (RequesterStatus, error) {
	var st RequesterStatus
	entry, err := e.store.ActiveEntry(ctx, eventID, requesterID)
	if err != nil {
		return st, fmt.Errorf("status: %w", err)
	}
	if entry == nil {
		return st, nil
	}
	st.Entry = entry
	switch entry.Status {
	case model.StatusWaiting:
		pos, err := e.store.WaitingPosition(ctx, entry)
		if err != nil {
			return st, fmt.Errorf("status: derive position: %w", err)
		}
		st.Position = pos
	case model.StatusOffered:
		if entry.OfferExpiresAt != nil {
			if rem := entry.OfferExpiresAt.Sub(e.now().UTC()); rem > 0 {
				st.OfferRemaining = rem
			}
		}
	}
	return st, nil
}

// Stats aggregates waiting and non-expired offered counts per pool of
// the event.  Counts are computed from the entry rows on every call;
// there are no maintained counters that could drift.
func (e *Engine) Stats(ctx context.Context, eventID string) ([]PoolStats, error) {
	stats, err := e.store.EventStats(ctx, eventID, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}
