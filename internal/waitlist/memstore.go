package waitlist

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/event-waitlist/internal/model"
)

// MemStore is an in-memory Store for tests and local development.  A
// single mutex stands in for the database's per-pool serialization;
// correct, not scalable, which is all a non-durable store needs to be.
type MemStore struct {
	mu       sync.Mutex
	entries  map[string]*model.WaitingListEntry
	capacity map[model.Pool]model.EventCapacity
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries:  make(map[string]*model.WaitingListEntry),
		capacity: make(map[model.Pool]model.EventCapacity),
	}
}

// SetCapacity registers or replaces a pool's capacity row.
func (s *MemStore) SetCapacity(pool model.Pool, total, committed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity[pool] = model.EventCapacity{Pool: pool, TotalTickets: total, TicketsCommitted: committed}
}

func cloneEntry(e *model.WaitingListEntry) *model.WaitingListEntry {
	c := *e
	if e.OfferExpiresAt != nil {
		exp := *e.OfferExpiresAt
		c.OfferExpiresAt = &exp
	}
	return &c
}

// memTx journals mutations so a failed WithPool body can be rolled
// back, mirroring the transactional behaviour of the MySQL store.
type memTx struct {
	store         *MemStore
	pool          model.Pool
	inserted      []string
	prior         map[string]*model.WaitingListEntry
	priorCapacity *model.EventCapacity
}

// WithPool runs fn under the store-wide mutex and undoes its mutations
// when fn returns an error.
func (s *MemStore) WithPool(ctx context.Context, pool model.Pool, fn func(PoolTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, pool: pool, prior: make(map[string]*model.WaitingListEntry)}
	if err := fn(tx); err != nil {
		for _, id := range tx.inserted {
			delete(s.entries, id)
		}
		for id, prev := range tx.prior {
			s.entries[id] = prev
		}
		if tx.priorCapacity != nil {
			s.capacity[pool] = *tx.priorCapacity
		}
		return err
	}
	return nil
}

func (t *memTx) Capacity(ctx context.Context) (model.EventCapacity, error) {
	c, ok := t.store.capacity[t.pool]
	if !ok {
		return model.EventCapacity{}, ErrPoolNotFound
	}
	return c, nil
}

func (t *memTx) OfferedQuantity(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, e := range t.store.entries {
		if e.Pool() == t.pool && e.Status == model.StatusOffered && !e.OfferExpired(now) {
			total += e.Quantity
		}
	}
	return total, nil
}

func (t *memTx) OldestWaiting(ctx context.Context) (*model.WaitingListEntry, error) {
	var oldest *model.WaitingListEntry
	for _, e := range t.store.entries {
		if e.Pool() != t.pool || e.Status != model.StatusWaiting {
			continue
		}
		if oldest == nil || e.Before(oldest) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return cloneEntry(oldest), nil
}

func (t *memTx) Insert(ctx context.Context, e *model.WaitingListEntry) error {
	for _, other := range t.store.entries {
		if other.EventID == e.EventID && other.RequesterID == e.RequesterID && other.Status.Active() {
			return ErrAlreadyActive
		}
	}
	t.store.entries[e.ID] = cloneEntry(e)
	t.inserted = append(t.inserted, e.ID)
	return nil
}

func (t *memTx) Offer(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	e, ok := t.store.entries[id]
	if !ok {
		return false, ErrEntryNotFound
	}
	if e.Status != model.StatusWaiting {
		return false, nil
	}
	if _, saved := t.prior[id]; !saved {
		t.prior[id] = cloneEntry(e)
	}
	exp := expiresAt
	e.Status = model.StatusOffered
	e.OfferExpiresAt = &exp
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (t *memTx) Purchase(ctx context.Context, id string) (bool, error) {
	e, ok := t.store.entries[id]
	if !ok {
		return false, ErrEntryNotFound
	}
	if e.Status != model.StatusOffered {
		return false, nil
	}
	if _, saved := t.prior[id]; !saved {
		t.prior[id] = cloneEntry(e)
	}
	e.Status = model.StatusPurchased
	e.OfferExpiresAt = nil
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (t *memTx) AddCommitted(ctx context.Context, qty int) error {
	c, ok := t.store.capacity[t.pool]
	if !ok {
		return ErrPoolNotFound
	}
	if t.priorCapacity == nil {
		saved := c
		t.priorCapacity = &saved
	}
	c.TicketsCommitted += qty
	t.store.capacity[t.pool] = c
	return nil
}

func (s *MemStore) Entry(ctx context.Context, id string) (*model.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (s *MemStore) ActiveEntry(ctx context.Context, eventID, requesterID string) (*model.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.EventID == eventID && e.RequesterID == requesterID && e.Status.Active() {
			return cloneEntry(e), nil
		}
	}
	return nil, nil
}

func (s *MemStore) Transition(ctx context.Context, id string, from []model.Status, to model.Status, offerExpiresAt *time.Time) (*model.WaitingListEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false, ErrEntryNotFound
	}
	eligible := false
	for _, st := range from {
		if e.Status == st {
			eligible = true
			break
		}
	}
	if !eligible {
		return cloneEntry(e), false, nil
	}
	e.Status = to
	e.OfferExpiresAt = nil
	if offerExpiresAt != nil {
		exp := *offerExpiresAt
		e.OfferExpiresAt = &exp
	}
	e.UpdatedAt = time.Now().UTC()
	return cloneEntry(e), true, nil
}

func (s *MemStore) ExpireOffers(ctx context.Context, now time.Time) ([]*model.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*model.WaitingListEntry
	for _, e := range s.entries {
		if e.OfferExpired(now) {
			e.Status = model.StatusExpired
			e.OfferExpiresAt = nil
			e.UpdatedAt = now
			expired = append(expired, cloneEntry(e))
		}
	}
	return expired, nil
}

func (s *MemStore) PoolsWithWaiting(ctx context.Context) ([]model.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[model.Pool]struct{})
	var pools []model.Pool
	for _, e := range s.entries {
		if e.Status != model.StatusWaiting {
			continue
		}
		if _, ok := seen[e.Pool()]; ok {
			continue
		}
		seen[e.Pool()] = struct{}{}
		pools = append(pools, e.Pool())
	}
	return pools, nil
}

func (s *MemStore) WaitingPosition(ctx context.Context, entry *model.WaitingListEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := 1
	for _, e := range s.entries {
		if e.Pool() == entry.Pool() && e.Status == model.StatusWaiting && e.ID != entry.ID && e.Before(entry) {
			pos++
		}
	}
	return pos, nil
}

func (s *MemStore) EventStats(ctx context.Context, eventID string, now time.Time) ([]PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPool := make(map[model.Pool]*PoolStats)
	var order []model.Pool
	for _, e := range s.entries {
		if e.EventID != eventID {
			continue
		}
		st, ok := byPool[e.Pool()]
		if !ok {
			st = &PoolStats{Pool: e.Pool()}
			byPool[e.Pool()] = st
			order = append(order, e.Pool())
		}
		switch {
		case e.Status == model.StatusWaiting:
			st.Waiting++
		case e.Status == model.StatusOffered && !e.OfferExpired(now):
			st.Offered++
		}
	}
	stats := make([]PoolStats, 0, len(order))
	for _, p := range order {
		stats = append(stats, *byPool[p])
	}
	return stats, nil
}
