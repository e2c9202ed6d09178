package model

import "time"

// CartItem is one line of a requester's cart for an event.
type CartItem struct {
	ProductID  string `json:"product_id"`
	TicketType string `json:"ticket_type,omitempty"`
	Quantity   int    `json:"quantity"`
	PriceCents uint32 `json:"price_cents"`
}

// CartSnapshot mirrors a requester's in-progress cart for one event.
// It is keyed by (requester, event) and bound to the lifecycle of the
// requester's waiting-list entry: when the entry expires or is
// cancelled the snapshot is cleared.  The snapshot has no durability
// guarantee of its own beyond its TTL; the waiting-list entry is the
// system of record.
type CartSnapshot struct {
	RequesterID string     `json:"requester_id"`
	EventID     string     `json:"event_id"`
	Items       []CartItem `json:"items"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TotalQuantity sums the quantities of all line items.
func (c *CartSnapshot) TotalQuantity() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}
