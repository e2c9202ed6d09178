// Package repository contains the MySQL-backed persistence layer.  The
// waiting-list store implements waitlist.Store: every mutation is a
// single transaction or a single conditional statement, so the engine
// never performs a read-then-write sequence the database cannot make
// atomic.  Pool-level serialization comes from a SELECT ... FOR UPDATE
// on the pool's capacity row; the one-active-entry rule is enforced by
// a unique index over (event_id, active_requester), where
// active_requester is a generated column that is NULL for terminal
// statuses.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/event-waitlist/internal/model"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

// mysqlDupEntry is the MySQL error number for a unique key violation.
const mysqlDupEntry = 1062

// WaitlistStore is the production waitlist.Store over MySQL.
type WaitlistStore struct {
	db *sql.DB
}

// NewWaitlistStore returns a WaitlistStore bound to the provided
// database handle.
func NewWaitlistStore(db *sql.DB) *WaitlistStore {
	if db == nil {
		panic("nil db passed to NewWaitlistStore")
	}
	return &WaitlistStore{db: db}
}

// DB exposes the underlying handle, e.g. for health checks.
func (s *WaitlistStore) DB() *sql.DB { return s.db }

const entryColumns = `id, event_id, requester_id, ticket_type, quantity, status, offer_expires_at, created_at, updated_at`

// scanEntry reads one waiting_list_entries row.
func scanEntry(row interface{ Scan(...any) error }) (*model.WaitingListEntry, error) {
	var e model.WaitingListEntry
	var status string
	var expires sql.NullTime
	if err := row.Scan(&e.ID, &e.EventID, &e.RequesterID, &e.TicketType, &e.Quantity, &status, &expires, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = model.Status(status)
	if expires.Valid {
		t := expires.Time
		e.OfferExpiresAt = &t
	}
	return &e, nil
}

// poolTx is the waitlist.PoolTx over an open transaction holding the
// pool's capacity row lock.
type poolTx struct {
	tx       *sql.Tx
	pool     model.Pool
	capacity model.EventCapacity
}

// WithPool opens a transaction, locks the pool's capacity row with
// SELECT ... FOR UPDATE and runs fn.  The row lock serializes every
// capacity-affecting operation for the pool across all service
// instances, which is what makes the join's check-then-insert atomic.
func (s *WaitlistStore) WithPool(ctx context.Context, pool model.Pool, fn func(waitlist.PoolTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pool tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	capacity, err := lockCapacity(ctx, tx, pool)
	if err != nil {
		return err
	}
	if err := fn(&poolTx{tx: tx, pool: pool, capacity: capacity}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pool tx: %w", err)
	}
	committed = true
	return nil
}

// lockCapacity reads and locks the capacity row for the pool.  Typed
// pools live in event_ticket_types, the event-wide pool in events.
func lockCapacity(ctx context.Context, tx *sql.Tx, pool model.Pool) (model.EventCapacity, error) {
	capacity := model.EventCapacity{Pool: pool}
	var err error
	if pool.TicketType == "" {
		err = tx.QueryRowContext(ctx,
			`SELECT total_tickets, tickets_committed FROM events WHERE id = ? FOR UPDATE`,
			pool.EventID,
		).Scan(&capacity.TotalTickets, &capacity.TicketsCommitted)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT total_tickets, tickets_committed FROM event_ticket_types WHERE event_id = ? AND ticket_type = ? FOR UPDATE`,
			pool.EventID, pool.TicketType,
		).Scan(&capacity.TotalTickets, &capacity.TicketsCommitted)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return capacity, waitlist.ErrPoolNotFound
	}
	if err != nil {
		return capacity, fmt.Errorf("lock capacity row: %w", err)
	}
	return capacity, nil
}

func (t *poolTx) Capacity(ctx context.Context) (model.EventCapacity, error) {
	return t.capacity, nil
}

func (t *poolTx) OfferedQuantity(ctx context.Context, now time.Time) (int, error) {
	var total int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM waiting_list_entries
		 WHERE event_id = ? AND ticket_type = ? AND status = 'offered' AND offer_expires_at > ?`,
		t.pool.EventID, t.pool.TicketType, now,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum offered quantity: %w", err)
	}
	return total, nil
}

func (t *poolTx) OldestWaiting(ctx context.Context) (*model.WaitingListEntry, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waiting_list_entries
		 WHERE event_id = ? AND ticket_type = ? AND status = 'waiting'
		 ORDER BY created_at, id LIMIT 1`,
		t.pool.EventID, t.pool.TicketType,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select oldest waiting: %w", err)
	}
	return e, nil
}

func (t *poolTx) Insert(ctx context.Context, e *model.WaitingListEntry) error {
	var expires any
	if e.OfferExpiresAt != nil {
		expires = e.OfferExpiresAt.UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO waiting_list_entries
		   (id, event_id, requester_id, ticket_type, quantity, status, offer_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventID, e.RequesterID, e.TicketType, e.Quantity, string(e.Status), expires,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry {
		return waitlist.ErrAlreadyActive
	}
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (t *poolTx) Offer(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE waiting_list_entries
		 SET status = 'offered', offer_expires_at = ?, updated_at = UTC_TIMESTAMP(3)
		 WHERE id = ? AND status = 'waiting'`,
		expiresAt.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("offer entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("offer entry: rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *poolTx) Purchase(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE waiting_list_entries
		 SET status = 'purchased', offer_expires_at = NULL, updated_at = UTC_TIMESTAMP(3)
		 WHERE id = ? AND status = 'offered'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("purchase entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("purchase entry: rows affected: %w", err)
	}
	return n == 1, nil
}

// AddCommitted bumps the committed count on the capacity row the
// enclosing transaction already holds FOR UPDATE.
func (t *poolTx) AddCommitted(ctx context.Context, qty int) error {
	var err error
	if t.pool.TicketType == "" {
		_, err = t.tx.ExecContext(ctx,
			`UPDATE events SET tickets_committed = tickets_committed + ? WHERE id = ?`,
			qty, t.pool.EventID)
	} else {
		_, err = t.tx.ExecContext(ctx,
			`UPDATE event_ticket_types SET tickets_committed = tickets_committed + ? WHERE event_id = ? AND ticket_type = ?`,
			qty, t.pool.EventID, t.pool.TicketType)
	}
	if err != nil {
		return fmt.Errorf("add committed quantity: %w", err)
	}
	return nil
}

func (s *WaitlistStore) Entry(ctx context.Context, id string) (*model.WaitingListEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waiting_list_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, waitlist.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select entry: %w", err)
	}
	return e, nil
}

func (s *WaitlistStore) ActiveEntry(ctx context.Context, eventID, requesterID string) (*model.WaitingListEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waiting_list_entries
		 WHERE event_id = ? AND requester_id = ? AND status IN ('waiting', 'offered')`,
		eventID, requesterID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select active entry: %w", err)
	}
	return e, nil
}

// Transition applies a guarded status update in a single statement and
// returns the row as it stands afterwards.  A guard miss (the entry
// was not in any of the from statuses) is reported through the bool,
// not as an error, so callers can inspect the current state.
func (s *WaitlistStore) Transition(ctx context.Context, id string, from []model.Status, to model.Status, offerExpiresAt *time.Time) (*model.WaitingListEntry, bool, error) {
	if len(from) == 0 {
		return nil, false, fmt.Errorf("transition: empty guard set")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := make([]any, 0, len(from)+3)
	if offerExpiresAt != nil {
		args = append(args, string(to), offerExpiresAt.UTC())
	} else {
		args = append(args, string(to), nil)
	}
	args = append(args, id)
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE waiting_list_entries
		 SET status = ?, offer_expires_at = ?, updated_at = UTC_TIMESTAMP(3)
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("transition entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("transition entry: rows affected: %w", err)
	}
	entry, err := s.Entry(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return entry, n == 1, nil
}

// ExpireOffers collects and expires every stale offer in one
// transaction.  The SELECT ... FOR UPDATE pins the rows so a
// concurrent sweeper pass or purchase cannot slip between the read and
// the guarded update; re-running on already-expired rows matches
// nothing and is a no-op.
func (s *WaitlistStore) ExpireOffers(ctx context.Context, now time.Time) ([]*model.WaitingListEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expire tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM waiting_list_entries
		 WHERE status = 'offered' AND offer_expires_at <= ? FOR UPDATE`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select stale offers: %w", err)
	}
	var expired []*model.WaitingListEntry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale offer: %w", scanErr)
		}
		expired = append(expired, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		_ = tx.Rollback()
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE waiting_list_entries
		 SET status = 'expired', offer_expires_at = NULL, updated_at = UTC_TIMESTAMP(3)
		 WHERE status = 'offered' AND offer_expires_at <= ?`,
		now.UTC(),
	); err != nil {
		return nil, fmt.Errorf("expire stale offers: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire tx: %w", err)
	}
	committed = true

	for _, e := range expired {
		e.Status = model.StatusExpired
		e.OfferExpiresAt = nil
		e.UpdatedAt = now.UTC()
	}
	return expired, nil
}

func (s *WaitlistStore) PoolsWithWaiting(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT event_id, ticket_type FROM waiting_list_entries WHERE status = 'waiting'`)
	if err != nil {
		return nil, fmt.Errorf("select waiting pools: %w", err)
	}
	defer rows.Close()
	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		if err := rows.Scan(&p.EventID, &p.TicketType); err != nil {
			return nil, fmt.Errorf("scan waiting pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pools, nil
}

// WaitingPosition derives the entry's 1-based FIFO position by
// counting the waiting entries ahead of it.
func (s *WaitlistStore) WaitingPosition(ctx context.Context, entry *model.WaitingListEntry) (int, error) {
	var ahead int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waiting_list_entries
		 WHERE event_id = ? AND ticket_type = ? AND status = 'waiting'
		   AND (created_at < ? OR (created_at = ? AND id < ?))`,
		entry.EventID, entry.TicketType, entry.CreatedAt.UTC(), entry.CreatedAt.UTC(), entry.ID,
	).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("derive waiting position: %w", err)
	}
	return ahead + 1, nil
}

func (s *WaitlistStore) EventStats(ctx context.Context, eventID string, now time.Time) ([]waitlist.PoolStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_type,
		        SUM(status = 'waiting'),
		        SUM(status = 'offered' AND offer_expires_at > ?)
		 FROM waiting_list_entries
		 WHERE event_id = ?
		 GROUP BY ticket_type
		 ORDER BY ticket_type`,
		now.UTC(), eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate event stats: %w", err)
	}
	defer rows.Close()
	var stats []waitlist.PoolStats
	for rows.Next() {
		st := waitlist.PoolStats{Pool: model.Pool{EventID: eventID}}
		if err := rows.Scan(&st.Pool.TicketType, &st.Waiting, &st.Offered); err != nil {
			return nil, fmt.Errorf("scan event stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
