// Package auth provides bearer-token authentication for the API and
// credential injection for outbound service clients. Session and identity
// management live outside this system; all this package needs from a token
// is a verified user id.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const userIDKey = "user_id"

// DevUserID is the fixed identity assigned by DevMiddleware.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Claims struct {
	jwt.RegisteredClaims
}

type Config struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// Middleware validates a Bearer JWT (HS256) and stores the subject user id
// on the request context.
func Middleware(cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			}

			uid, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a user id")
			}

			c.Set(userIDKey, uid)
			return next(c)
		}
	}
}

// DevMiddleware bypasses token validation and assigns every request the
// development user. Never enabled outside ENV=development.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(userIDKey, DevUserID)
			return next(c)
		}
	}
}

// SetUserID stamps an identity onto the request context, the same way the
// middleware does after validating a token.
func SetUserID(c echo.Context, id uuid.UUID) {
	c.Set(userIDKey, id)
}

// UserID returns the authenticated user id, or uuid.Nil when the request is
// unauthenticated.
func UserID(c echo.Context) uuid.UUID {
	uid, _ := c.Get(userIDKey).(uuid.UUID)
	return uid
}
