package middleware

// identity.go resolves the opaque requester identity every waiting-list
// operation is keyed on.  Identity is NOT authentication: an
// authenticated user's JWT subject and a guest's session id are both
// just opaque strings to the admission engine, scoped per device only
// in the guest case.

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// GuestSessionHeader carries the client-generated guest session id
// when no access token is presented.
const GuestSessionHeader = "X-Guest-Session"

// maxRequesterIDLen bounds the identity string so it fits the
// requester_id column.
const maxRequesterIDLen = 128

// RequesterID returns middleware that resolves the requester identity
// and stores it under "requester_id" in the context.
//
// Resolution order:
//  1. A Bearer token signed with secret → the token's sub claim.
//     An invalid or unparsable token is rejected with 401 rather than
//     demoted to guest, so a requester cannot hold one entry as a
//     user and another as a guest with the same credentials.
//  2. The X-Guest-Session header → "guest:" + session id.
//  3. Neither → 400; the client must supply one of the two.
func RequesterID(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				raw := strings.TrimPrefix(auth, "Bearer ")
				tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, echo.ErrUnauthorized
					}
					return []byte(secret), nil
				})
				if err != nil || !tok.Valid {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
				}
				claims, ok := tok.Claims.(jwt.MapClaims)
				if !ok {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
				}
				sub, _ := claims["sub"].(string)
				if sub == "" || len(sub) > maxRequesterIDLen {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing subject claim"})
				}
				c.Set("requester_id", sub)
				return next(c)
			}

			if sess := c.Request().Header.Get(GuestSessionHeader); sess != "" {
				id := "guest:" + sess
				if len(id) > maxRequesterIDLen {
					return c.JSON(http.StatusBadRequest, echo.Map{"error": "guest session id too long"})
				}
				c.Set("requester_id", id)
				return next(c)
			}

			return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing bearer token or guest session"})
		}
	}
}

// Requester extracts the identity stored by RequesterID.  Returns an
// empty string when the middleware did not run.
func Requester(c echo.Context) string {
	if v, ok := c.Get("requester_id").(string); ok {
		return v
	}
	return ""
}
