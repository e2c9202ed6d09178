package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-waitlist/internal/middleware"
	"github.com/iliyamo/event-waitlist/internal/service"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

// WaitlistHandler exposes the admission engine over HTTP: joining the
// queue, cancelling, and the observer reads.  Requester identity is
// resolved by the identity middleware before any of these run.
type WaitlistHandler struct {
	svc *service.Waitlist
}

// NewWaitlistHandler constructs a WaitlistHandler.
func NewWaitlistHandler(svc *service.Waitlist) *WaitlistHandler {
	if svc == nil {
		panic("nil service passed to NewWaitlistHandler")
	}
	return &WaitlistHandler{svc: svc}
}

// entryResponse is the wire shape of a waiting-list entry.  The
// authoritative fields are status and offer_expires_at; clients must
// re-validate against them before checkout rather than trusting a
// locally computed countdown.
type entryResponse struct {
	EntryID        string `json:"entry_id"`
	EventID        string `json:"event_id"`
	TicketType     string `json:"ticket_type,omitempty"`
	Quantity       int    `json:"quantity"`
	Status         string `json:"status"`
	OfferExpiresAt string `json:"offer_expires_at,omitempty"`
}

// Join handles POST /v1/events/:id/queue.  Body:
//
//	{"ticket_type": "...", "quantity": 2}
//
// Returns 201 with the created entry (offered when capacity allows,
// waiting otherwise).  A repeat join while an entry is active returns
// 200 with the existing entry unchanged, so clients can branch on
// fresh-vs-already-active without a separate probe.
func (h *WaitlistHandler) Join(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		TicketType string `json:"ticket_type"`
		Quantity   int    `json:"quantity"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Quantity < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must be at least 1"})
	}

	entry, already, err := h.svc.Join(c.Request().Context(), waitlist.JoinRequest{
		EventID:     eventID,
		RequesterID: requester,
		TicketType:  body.TicketType,
		Quantity:    body.Quantity,
	})
	if errors.Is(err, waitlist.ErrPoolNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	}
	if err != nil {
		c.Logger().Errorf("join queue: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	resp := entryResponse{
		EntryID:    entry.ID,
		EventID:    entry.EventID,
		TicketType: entry.TicketType,
		Quantity:   entry.Quantity,
		Status:     string(entry.Status),
	}
	if entry.OfferExpiresAt != nil {
		resp.OfferExpiresAt = entry.OfferExpiresAt.UTC().Format(time.RFC3339)
	}
	if already {
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusCreated, resp)
}

// Cancel handles DELETE /v1/events/:id/queue.  Withdraws the
// requester's active entry; 404 when they hold none.
func (h *WaitlistHandler) Cancel(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	entry, err := h.svc.Cancel(c.Request().Context(), eventID, requester)
	if errors.Is(err, waitlist.ErrNoActiveEntry) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active entry"})
	}
	if err != nil {
		c.Logger().Errorf("cancel entry: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"entry_id": entry.ID,
		"status":   string(entry.Status),
	})
}

// Status handles GET /v1/events/:id/queue/status, the requester's
// poll target.  The response is re-derived from the store on every
// call; remaining_seconds is a hint, the expiry timestamp is the
// authority.
func (h *WaitlistHandler) Status(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	st, err := h.svc.Status(c.Request().Context(), eventID, requester)
	if err != nil {
		c.Logger().Errorf("queue status: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if st.Entry == nil {
		return c.JSON(http.StatusOK, echo.Map{"active": false})
	}
	resp := echo.Map{
		"active":   true,
		"entry_id": st.Entry.ID,
		"status":   string(st.Entry.Status),
		"quantity": st.Entry.Quantity,
	}
	if st.Position > 0 {
		resp["position"] = st.Position
	}
	if st.Entry.OfferExpiresAt != nil {
		resp["offer_expires_at"] = st.Entry.OfferExpiresAt.UTC().Format(time.RFC3339)
		resp["remaining_seconds"] = int(st.OfferRemaining / time.Second)
	}
	return c.JSON(http.StatusOK, resp)
}

// Stats handles GET /v1/events/:id/queue/stats: aggregate waiting and
// offered counts per pool of the event.
func (h *WaitlistHandler) Stats(c echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	stats, err := h.svc.Stats(c.Request().Context(), eventID)
	if err != nil {
		c.Logger().Errorf("queue stats: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	pools := make([]echo.Map, 0, len(stats))
	for _, st := range stats {
		pools = append(pools, echo.Map{
			"ticket_type": st.Pool.TicketType,
			"waiting":     st.Waiting,
			"offered":     st.Offered,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "pools": pools})
}
