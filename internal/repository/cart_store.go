package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-waitlist/internal/model"
)

// CartStore keeps cart snapshots in Redis, keyed per (requester,
// event) so a snapshot survives page reloads and device restarts for
// as long as its TTL.  The snapshot is a convenience mirror bound to
// the requester's waiting-list entry: the service clears it whenever
// the entry reaches a terminal state, and the TTL bounds its lifetime
// if the service never gets the chance.
type CartStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCartStore returns a CartStore with the given snapshot TTL.  A
// non-positive TTL defaults to one hour.
func NewCartStore(rdb *redis.Client, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CartStore{rdb: rdb, ttl: ttl}
}

func cartKey(requesterID, eventID string) string {
	return fmt.Sprintf("cart:%s:%s", requesterID, eventID)
}

// Get returns the snapshot for (requester, event), or nil when none
// exists.
func (s *CartStore) Get(ctx context.Context, requesterID, eventID string) (*model.CartSnapshot, error) {
	raw, err := s.rdb.Get(ctx, cartKey(requesterID, eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart snapshot: %w", err)
	}
	var snap model.CartSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode cart snapshot: %w", err)
	}
	return &snap, nil
}

// Put stores the snapshot, refreshing its TTL.
func (s *CartStore) Put(ctx context.Context, snap *model.CartSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cart snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, cartKey(snap.RequesterID, snap.EventID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store cart snapshot: %w", err)
	}
	return nil
}

// Clear removes the snapshot for (requester, event).  Clearing an
// absent snapshot is a no-op.
func (s *CartStore) Clear(ctx context.Context, requesterID, eventID string) error {
	if err := s.rdb.Del(ctx, cartKey(requesterID, eventID)).Err(); err != nil {
		return fmt.Errorf("clear cart snapshot: %w", err)
	}
	return nil
}
