// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-waitlist/internal/config"
	"github.com/iliyamo/event-waitlist/internal/handler"
	"github.com/iliyamo/event-waitlist/internal/middleware"
)

// RegisterRoutes registers routes that carry no requester identity.
// Currently that is only the health check, used by load balancers to
// verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterWaitlist wires the queue, cart and payment endpoints under
// /v1.  Queue and cart routes resolve the requester identity first (a
// JWT subject or a guest session header, opaque either way) and the
// mutating queue routes sit behind the Redis token bucket.  The
// payment callback authenticates differently: it arrives from the
// gateway integration, not a requester, so it skips the identity
// middleware.
func RegisterWaitlist(e *echo.Echo, w *handler.WaitlistHandler, cart *handler.CartHandler, pay *handler.PaymentHandler, jwtSecret string, rdb *redis.Client) {
	limited := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	identified := middleware.RequesterID(jwtSecret)

	g := e.Group("/v1/events/:id")
	g.Use(identified)

	// Mutations: join and cancel compete for pool capacity, so they
	// are rate limited per requester and route.
	g.POST("/queue", w.Join, limited)
	g.DELETE("/queue", w.Cancel, limited)

	// Observer reads: polling targets, not rate limited. Clients
	// re-fetch on every change notification plus a fallback poll.
	g.GET("/queue/status", w.Status)
	g.GET("/queue/stats", w.Stats)

	// Cart snapshot bridge.
	g.GET("/cart", cart.Get)
	g.PUT("/cart", cart.Put)
	g.DELETE("/cart", cart.Clear)

	e.POST("/v1/payments/callback", pay.Callback, limited)
}
