package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-waitlist/internal/service"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

// PaymentHandler accepts the terminal signals from payment-gateway
// callback handling.  The gateway integration itself lives elsewhere;
// by the time a request reaches this handler it has been distilled to
// "purchase completed" or "purchase abandoned" for one entry.
type PaymentHandler struct {
	svc *service.Waitlist
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(svc *service.Waitlist) *PaymentHandler {
	if svc == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	return &PaymentHandler{svc: svc}
}

// Callback handles POST /v1/payments/callback.  Body:
//
//	{"entry_id": "...", "outcome": "completed" | "abandoned"}
//
// Retries are safe: recording an outcome twice is a no-op.  A
// completion that arrives after the offer expired returns 409; the
// offer is never resurrected, the payment must be refunded upstream.
func (h *PaymentHandler) Callback(c echo.Context) error {
	var body struct {
		EntryID string `json:"entry_id"`
		Outcome string `json:"outcome"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EntryID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "entry_id is required"})
	}

	ctx := c.Request().Context()
	switch body.Outcome {
	case "completed":
		entry, err := h.svc.MarkPurchased(ctx, body.EntryID)
		if errors.Is(err, waitlist.ErrEntryNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "entry not found"})
		}
		if errors.Is(err, waitlist.ErrOfferExpired) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "offer expired before completion"})
		}
		if errors.Is(err, waitlist.ErrInvalidTransition) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "entry cannot be purchased", "status": string(entry.Status)})
		}
		if err != nil {
			c.Logger().Errorf("mark purchased: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		return c.JSON(http.StatusOK, echo.Map{"entry_id": entry.ID, "status": string(entry.Status)})
	case "abandoned":
		entry, err := h.svc.MarkAbandoned(ctx, body.EntryID)
		if errors.Is(err, waitlist.ErrEntryNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "entry not found"})
		}
		if errors.Is(err, waitlist.ErrInvalidTransition) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "entry cannot be released", "status": string(entry.Status)})
		}
		if err != nil {
			c.Logger().Errorf("mark abandoned: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		return c.JSON(http.StatusOK, echo.Map{"entry_id": entry.ID, "status": string(entry.Status)})
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "outcome must be completed or abandoned"})
	}
}
