// Package queue defines the change-notification payloads exchanged
// over the message broker, the publisher that emits them and the audit
// consumer.  Every waiting-list state transition is published to the
// waitlist.changed queue; observers re-fetch authoritative state from
// the store when a notification arrives (and fall back to polling when
// the broker is down, so staleness stays bounded either way).
package queue

// EntryChangedEvent is published on every waiting-list entry state
// transition.  It carries enough for consumers to decide whether to
// re-fetch without a round trip to the primary database.
type EntryChangedEvent struct {
	EntryID        string `json:"entry_id"`
	EventID        string `json:"event_id"`
	RequesterID    string `json:"requester_id"`
	TicketType     string `json:"ticket_type,omitempty"`
	Quantity       int    `json:"quantity"`
	FromStatus     string `json:"from_status,omitempty"` // prior status when known; empty on creation
	ToStatus       string `json:"to_status"`
	OfferExpiresAt string `json:"offer_expires_at,omitempty"` // RFC 3339, offered entries only
	ChangedAt      string `json:"changed_at"`                 // RFC 3339
}
