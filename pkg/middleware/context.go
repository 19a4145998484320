package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
)

// Identity headers trusted by HeaderAuth
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// requestID reuses the caller's X-Request-ID so logs line up across services
func requestID(req *http.Request) string {
	if id := req.Header.Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// Context copies request metadata onto the request context so loggers and repositories can see it.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := requestID(req)
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			ctx := fernctx.SetRequestID(req.Context(), id)
			ctx = fernctx.SetMethod(ctx, req.Method)
			ctx = fernctx.SetRoute(ctx, c.Path())
			ctx = fernctx.SetRemoteIP(ctx, c.RealIP())
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
