// Package service wires the admission engine to its collaborators:
// change notifications over the message broker, the cart snapshot
// bridge, and the on-demand sweep tasks.  Handlers talk to this layer;
// the engine itself stays free of transport and side effects.
package service

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/iliyamo/event-waitlist/internal/model"
	"github.com/iliyamo/event-waitlist/internal/queue"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

// Notifier publishes entry transition events.  Satisfied by
// *queue.Publisher; nil disables notifications.
type Notifier interface {
	PublishEntryChanged(ctx context.Context, event queue.EntryChangedEvent) error
}

// Carts clears cart snapshots bound to entries.  Satisfied by
// *repository.CartStore; nil disables the bridge.
type Carts interface {
	Clear(ctx context.Context, requesterID, eventID string) error
}

// Waitlist orchestrates one admission engine instance.  Every
// side effect here is best-effort: the store transition is the
// authoritative outcome, and a failed notification or cart clear is
// logged, never propagated to the caller.
type Waitlist struct {
	engine    *waitlist.Engine
	notifier  Notifier
	carts     Carts
	tasks     *asynq.Client // nil → no on-demand sweeps
	queueName string
}

// NewWaitlist builds the orchestration layer.  notifier, carts and
// tasks may each be nil; the corresponding side effect is skipped.
func NewWaitlist(engine *waitlist.Engine, notifier Notifier, carts Carts, tasks *asynq.Client, queueName string) *Waitlist {
	if engine == nil {
		panic("nil engine passed to NewWaitlist")
	}
	if queueName == "" {
		queueName = "default"
	}
	return &Waitlist{engine: engine, notifier: notifier, carts: carts, tasks: tasks, queueName: queueName}
}

// notify publishes a transition event for the entry.  from is empty
// for freshly created entries.
func (s *Waitlist) notify(ctx context.Context, e *model.WaitingListEntry, from model.Status) {
	if s.notifier == nil || e == nil {
		return
	}
	ev := queue.EntryChangedEvent{
		EntryID:     e.ID,
		EventID:     e.EventID,
		RequesterID: e.RequesterID,
		TicketType:  e.TicketType,
		Quantity:    e.Quantity,
		ToStatus:    string(e.Status),
		ChangedAt:   e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if from != "" {
		ev.FromStatus = string(from)
	}
	if e.OfferExpiresAt != nil {
		ev.OfferExpiresAt = e.OfferExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := s.notifier.PublishEntryChanged(ctx, ev); err != nil {
		log.Printf("waitlist: publish change for entry %s: %v", e.ID, err)
	}
}

// clearCart tears down the cart snapshot bound to the entry.
func (s *Waitlist) clearCart(ctx context.Context, e *model.WaitingListEntry) {
	if s.carts == nil || e == nil {
		return
	}
	if err := s.carts.Clear(ctx, e.RequesterID, e.EventID); err != nil {
		log.Printf("waitlist: clear cart for %s/%s: %v", e.RequesterID, e.EventID, err)
	}
}

// Join admits the requester; see waitlist.Engine.Join for semantics.
// A fresh join publishes a creation event; a repeat join publishes
// nothing, since no state changed.
func (s *Waitlist) Join(ctx context.Context, req waitlist.JoinRequest) (*model.WaitingListEntry, bool, error) {
	entry, already, err := s.engine.Join(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if !already {
		s.notify(ctx, entry, "")
	}
	return entry, already, nil
}

// Cancel withdraws the requester's active entry, clears the bound
// cart, and schedules a promotion for the freed pool.
func (s *Waitlist) Cancel(ctx context.Context, eventID, requesterID string) (*model.WaitingListEntry, error) {
	entry, err := s.engine.Cancel(ctx, eventID, requesterID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, entry, "")
	s.clearCart(ctx, entry)
	s.enqueuePromote(ctx, entry.Pool())
	return entry, nil
}

// MarkPurchased records a payment-success signal and tears down the
// cart; the purchase path downstream owns ticket issuance.
func (s *Waitlist) MarkPurchased(ctx context.Context, entryID string) (*model.WaitingListEntry, error) {
	entry, err := s.engine.MarkPurchased(ctx, entryID)
	if err != nil {
		return entry, err
	}
	s.notify(ctx, entry, model.StatusOffered)
	s.clearCart(ctx, entry)
	return entry, nil
}

// MarkAbandoned records a payment-failure signal, releasing the offer
// and scheduling a promotion for the freed pool.
func (s *Waitlist) MarkAbandoned(ctx context.Context, entryID string) (*model.WaitingListEntry, error) {
	entry, err := s.engine.MarkAbandoned(ctx, entryID)
	if err != nil {
		return entry, err
	}
	s.notify(ctx, entry, model.StatusOffered)
	s.clearCart(ctx, entry)
	s.enqueuePromote(ctx, entry.Pool())
	return entry, nil
}

// Status returns the requester's observer view.
func (s *Waitlist) Status(ctx context.Context, eventID, requesterID string) (waitlist.RequesterStatus, error) {
	return s.engine.Status(ctx, eventID, requesterID)
}

// Stats returns the event's aggregate observer view.
func (s *Waitlist) Stats(ctx context.Context, eventID string) ([]waitlist.PoolStats, error) {
	return s.engine.Stats(ctx, eventID)
}

// Sweep runs one sweeper pass and fans out the side effects: expired
// entries lose their carts, and every transition is published.
func (s *Waitlist) Sweep(ctx context.Context, now time.Time) (waitlist.SweepResult, error) {
	res, err := s.engine.Sweep(ctx, now)
	for _, e := range res.Expired {
		s.notify(ctx, e, model.StatusOffered)
		s.clearCart(ctx, e)
	}
	for _, e := range res.Promoted {
		s.notify(ctx, e, model.StatusWaiting)
	}
	return res, err
}

// PromotePool promotes waiting entries in the pool until the next one
// no longer fits.
func (s *Waitlist) PromotePool(ctx context.Context, pool model.Pool) ([]*model.WaitingListEntry, error) {
	promoted, err := s.engine.PromotePool(ctx, pool)
	for _, e := range promoted {
		s.notify(ctx, e, model.StatusWaiting)
	}
	return promoted, err
}
