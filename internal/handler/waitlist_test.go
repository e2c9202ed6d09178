package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-waitlist/internal/handler"
	"github.com/iliyamo/event-waitlist/internal/middleware"
	"github.com/iliyamo/event-waitlist/internal/model"
	"github.com/iliyamo/event-waitlist/internal/router"
	"github.com/iliyamo/event-waitlist/internal/service"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

const testSecret = "test-secret"

// newTestServer wires the full HTTP surface over the in-memory store:
// identity middleware, router and handlers, with no Redis or broker.
func newTestServer(t *testing.T) (*echo.Echo, *waitlist.MemStore) {
	t.Helper()
	store := waitlist.NewMemStore()
	svc := service.NewWaitlist(waitlist.New(store, waitlist.DefaultOfferWindow), nil, nil, nil, "")

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterWaitlist(e, handler.NewWaitlistHandler(svc), handler.NewCartHandler(nil), handler.NewPaymentHandler(svc), testSecret, nil)
	return e, store
}

func doJSON(t *testing.T, e *echo.Echo, method, path, guest, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if guest != "" {
		req.Header.Set(middleware.GuestSessionHeader, guest)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestJoinEndpoint(t *testing.T) {
	e, store := newTestServer(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	rec, body := doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "sess-1", `{"quantity": 2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("join status = %d, want 201 (%s)", rec.Code, rec.Body)
	}
	if body["status"] != "offered" {
		t.Errorf("status = %v, want offered", body["status"])
	}
	if exp, _ := body["offer_expires_at"].(string); exp == "" {
		t.Error("offered response carries no expiry")
	}
	entryID := body["entry_id"].(string)

	// Repeat join: 200 and the same entry.
	rec, body = doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "sess-1", `{"quantity": 2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat join status = %d, want 200", rec.Code)
	}
	if body["entry_id"] != entryID {
		t.Errorf("repeat join entry = %v, want %s", body["entry_id"], entryID)
	}
}

func TestJoinRejectsBadRequests(t *testing.T) {
	e, store := newTestServer(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	// Missing identity entirely.
	rec, _ := doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "", `{"quantity": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("identityless join status = %d, want 400", rec.Code)
	}
	// Zero quantity.
	rec, _ = doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "sess-1", `{"quantity": 0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero-quantity join status = %d, want 400", rec.Code)
	}
	// Unknown event.
	rec, _ = doJSON(t, e, http.MethodPost, "/v1/events/nope/queue", "sess-1", `{"quantity": 1}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown-event join status = %d, want 404", rec.Code)
	}
}

func TestJWTIdentity(t *testing.T) {
	e, store := newTestServer(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/events/ev1/queue", strings.NewReader(`{"quantity": 1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("authenticated join status = %d (%s)", rec.Code, rec.Body)
	}

	// A bad signature is rejected, not demoted to guest.
	req = httptest.NewRequest(http.MethodPost, "/v1/events/ev1/queue", strings.NewReader(`{"quantity": 1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+signed+"tampered")
	req.Header.Set(middleware.GuestSessionHeader, "sess-fallback")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered token status = %d, want 401", rec.Code)
	}
}

func TestStatusAndCancelFlow(t *testing.T) {
	e, store := newTestServer(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 1, 0)

	// Holder takes the only ticket; the second guest queues.
	if rec, _ := doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "holder", `{"quantity": 1}`); rec.Code != http.StatusCreated {
		t.Fatalf("holder join: %d", rec.Code)
	}
	if rec, body := doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "waiter", `{"quantity": 1}`); rec.Code != http.StatusCreated || body["status"] != "waiting" {
		t.Fatalf("waiter join: %d %v", rec.Code, body["status"])
	}

	rec, body := doJSON(t, e, http.MethodGet, "/v1/events/ev1/queue/status", "waiter", "")
	if rec.Code != http.StatusOK || body["active"] != true {
		t.Fatalf("waiter status: %d %v", rec.Code, body)
	}
	if body["position"] != float64(1) {
		t.Errorf("waiter position = %v, want 1", body["position"])
	}

	rec, body = doJSON(t, e, http.MethodGet, "/v1/events/ev1/queue/stats", "waiter", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	pools := body["pools"].([]any)
	if len(pools) != 1 {
		t.Fatalf("stats pools = %v, want one pool", pools)
	}
	p := pools[0].(map[string]any)
	if p["waiting"] != float64(1) || p["offered"] != float64(1) {
		t.Errorf("stats = %v, want 1 waiting / 1 offered", p)
	}

	// Cancel and verify the entry is gone.
	if rec, _ := doJSON(t, e, http.MethodDelete, "/v1/events/ev1/queue", "waiter", ""); rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rec.Code)
	}
	if rec, _ := doJSON(t, e, http.MethodDelete, "/v1/events/ev1/queue", "waiter", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second cancel = %d, want 404", rec.Code)
	}
	if _, body := doJSON(t, e, http.MethodGet, "/v1/events/ev1/queue/status", "waiter", ""); body["active"] != false {
		t.Errorf("cancelled requester still active: %v", body)
	}
}

func TestPaymentCallback(t *testing.T) {
	e, store := newTestServer(t)
	store.SetCapacity(model.Pool{EventID: "ev1"}, 5, 0)

	_, body := doJSON(t, e, http.MethodPost, "/v1/events/ev1/queue", "buyer", `{"quantity": 1}`)
	entryID := body["entry_id"].(string)

	rec, body := doJSON(t, e, http.MethodPost, "/v1/payments/callback", "", `{"entry_id": "`+entryID+`", "outcome": "completed"}`)
	if rec.Code != http.StatusOK || body["status"] != "purchased" {
		t.Fatalf("completed callback: %d %v", rec.Code, body)
	}
	// Retried callback is a no-op, not an error.
	if rec, _ := doJSON(t, e, http.MethodPost, "/v1/payments/callback", "", `{"entry_id": "`+entryID+`", "outcome": "completed"}`); rec.Code != http.StatusOK {
		t.Errorf("retried callback = %d, want 200", rec.Code)
	}
	// Abandoning a purchased entry conflicts.
	if rec, _ := doJSON(t, e, http.MethodPost, "/v1/payments/callback", "", `{"entry_id": "`+entryID+`", "outcome": "abandoned"}`); rec.Code != http.StatusConflict {
		t.Errorf("abandon after purchase = %d, want 409", rec.Code)
	}

	if rec, _ := doJSON(t, e, http.MethodPost, "/v1/payments/callback", "", `{"entry_id": "missing", "outcome": "completed"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry = %d, want 404", rec.Code)
	}
	if rec, _ := doJSON(t, e, http.MethodPost, "/v1/payments/callback", "", `{"entry_id": "x", "outcome": "refunded"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad outcome = %d, want 400", rec.Code)
	}
}

func TestCartUnavailableWithoutRedis(t *testing.T) {
	e, _ := newTestServer(t)
	if rec, _ := doJSON(t, e, http.MethodGet, "/v1/events/ev1/cart", "sess-1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("cart without redis = %d, want 503", rec.Code)
	}
}
