package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-waitlist/internal/middleware"
	"github.com/iliyamo/event-waitlist/internal/model"
	"github.com/iliyamo/event-waitlist/internal/repository"
)

// CartHandler exposes the cart snapshot bridge.  A snapshot is a
// client-side mirror keyed per (requester, event): it survives reloads
// but carries no durability promise beyond its TTL, and the service
// clears it whenever the bound waiting-list entry reaches a terminal
// state.  When Redis is unavailable the handler degrades to 503;
// clients keep their local copy and retry.
type CartHandler struct {
	carts *repository.CartStore // nil when Redis is down
}

// NewCartHandler constructs a CartHandler.  carts may be nil.
func NewCartHandler(carts *repository.CartStore) *CartHandler {
	return &CartHandler{carts: carts}
}

// Get handles GET /v1/events/:id/cart.
func (h *CartHandler) Get(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	if h.carts == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "cart storage unavailable"})
	}
	snap, err := h.carts.Get(c.Request().Context(), requester, eventID)
	if err != nil {
		c.Logger().Errorf("get cart: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cart storage error"})
	}
	if snap == nil {
		return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "items": []model.CartItem{}})
	}
	return c.JSON(http.StatusOK, snap)
}

// Put handles PUT /v1/events/:id/cart.  Body: {"items": [...]}.
// Replaces the snapshot wholesale: the client owns the cart contents,
// the server only mirrors them.
func (h *CartHandler) Put(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	if h.carts == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "cart storage unavailable"})
	}
	var body struct {
		Items []model.CartItem `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	for _, it := range body.Items {
		if it.ProductID == "" || it.Quantity < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "items need a product_id and a positive quantity"})
		}
	}
	snap := &model.CartSnapshot{
		RequesterID: requester,
		EventID:     eventID,
		Items:       body.Items,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.carts.Put(c.Request().Context(), snap); err != nil {
		c.Logger().Errorf("put cart: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cart storage error"})
	}
	return c.JSON(http.StatusOK, snap)
}

// Clear handles DELETE /v1/events/:id/cart.
func (h *CartHandler) Clear(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	if h.carts == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "cart storage unavailable"})
	}
	if err := h.carts.Clear(c.Request().Context(), requester, eventID); err != nil {
		c.Logger().Errorf("clear cart: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cart storage error"})
	}
	return c.NoContent(http.StatusNoContent)
}
