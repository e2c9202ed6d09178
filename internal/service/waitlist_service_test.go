package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/event-waitlist/internal/model"
	"github.com/iliyamo/event-waitlist/internal/queue"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

// recordingNotifier captures published events in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.EntryChangedEvent
}

func (n *recordingNotifier) PublishEntryChanged(ctx context.Context, ev queue.EntryChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) byEntry(id string) []queue.EntryChangedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []queue.EntryChangedEvent
	for _, ev := range n.events {
		if ev.EntryID == id {
			out = append(out, ev)
		}
	}
	return out
}

// recordingCarts captures cart clears.
type recordingCarts struct {
	mu      sync.Mutex
	cleared []string
}

func (c *recordingCarts) Clear(ctx context.Context, requesterID, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, requesterID+"/"+eventID)
	return nil
}

func (c *recordingCarts) clearedFor(requesterID, eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.cleared {
		if k == requesterID+"/"+eventID {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Waitlist, *waitlist.MemStore, *recordingNotifier, *recordingCarts) {
	t.Helper()
	store := waitlist.NewMemStore()
	notifier := &recordingNotifier{}
	carts := &recordingCarts{}
	svc := NewWaitlist(waitlist.New(store, time.Minute), notifier, carts, nil, "")
	return svc, store, notifier, carts
}

func TestJoinPublishesCreation(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	entry, _, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "u1", Quantity: 1})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	events := notifier.byEntry(entry.ID)
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].FromStatus != "" || events[0].ToStatus != "offered" {
		t.Errorf("event = %s -> %s, want creation to offered", events[0].FromStatus, events[0].ToStatus)
	}
	if events[0].OfferExpiresAt == "" {
		t.Error("creation event of an offered entry carries no expiry")
	}

	// A repeat join changes nothing and must publish nothing.
	if _, already, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "u1", Quantity: 1}); err != nil || !already {
		t.Fatalf("repeat join: already=%v err=%v", already, err)
	}
	if got := len(notifier.byEntry(entry.ID)); got != 1 {
		t.Errorf("repeat join published %d extra events", got-1)
	}
}

func TestCancelClearsCartAndNotifies(t *testing.T) {
	svc, store, notifier, carts := newTestService(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	entry, _, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "u1", Quantity: 1})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), "ev1", "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !carts.clearedFor("u1", "ev1") {
		t.Error("cancel did not clear the bound cart snapshot")
	}
	events := notifier.byEntry(entry.ID)
	if len(events) != 2 || events[1].ToStatus != "cancelled" {
		t.Errorf("cancel events = %+v, want a cancelled transition after creation", events)
	}
}

func TestSweepFansOutExpiryEffects(t *testing.T) {
	svc, store, notifier, carts := newTestService(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 1, 0)

	holder, _, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "holder", Quantity: 1})
	if err != nil {
		t.Fatalf("holder join: %v", err)
	}
	waiter, _, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "waiter", Quantity: 1})
	if err != nil {
		t.Fatalf("waiter join: %v", err)
	}

	res, err := svc.Sweep(context.Background(), time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Expired) != 1 || len(res.Promoted) != 1 {
		t.Fatalf("sweep = %d expired / %d promoted, want 1/1", len(res.Expired), len(res.Promoted))
	}
	if !carts.clearedFor("holder", "ev1") {
		t.Error("expiry did not clear the holder's cart")
	}
	if carts.clearedFor("waiter", "ev1") {
		t.Error("promotion must not clear the promoted requester's cart")
	}

	holderEvents := notifier.byEntry(holder.ID)
	if len(holderEvents) != 2 || holderEvents[1].ToStatus != "expired" {
		t.Errorf("holder events = %+v, want an expired transition", holderEvents)
	}
	waiterEvents := notifier.byEntry(waiter.ID)
	if len(waiterEvents) != 2 || waiterEvents[1].ToStatus != "offered" {
		t.Errorf("waiter events = %+v, want an offered transition", waiterEvents)
	}
}

func TestMarkPurchasedClearsCart(t *testing.T) {
	svc, store, _, carts := newTestService(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	entry, _, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "buyer", Quantity: 2})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	got, err := svc.MarkPurchased(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got.Status != model.StatusPurchased {
		t.Errorf("status = %s, want purchased", got.Status)
	}
	if !carts.clearedFor("buyer", "ev1") {
		t.Error("purchase did not clear the cart snapshot")
	}
}

func TestNilCollaboratorsAreSkipped(t *testing.T) {
	store := waitlist.NewMemStore()
	store.SetCapacity(model.Pool{EventID: "ev1"}, 2, 0)
	svc := NewWaitlist(waitlist.New(store, time.Minute), nil, nil, nil, "")

	entry, _, err := svc.Join(context.Background(), waitlist.JoinRequest{EventID: "ev1", RequesterID: "u1", Quantity: 1})
	if err != nil {
		t.Fatalf("join without collaborators: %v", err)
	}
	if _, err := svc.MarkPurchased(context.Background(), entry.ID); err != nil {
		t.Fatalf("purchase without collaborators: %v", err)
	}
}
