// Package middleware holds the echo middleware shared by the fern API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const verifyTimeout = 5 * time.Second

// ClaimsVerifier verifies a raw bearer token and returns its claims
type ClaimsVerifier func(ctx context.Context, raw string) (map[string]any, error)

// NewOIDCVerifier discovers the issuer and returns a verifier for tokens issued to clientID
func NewOIDCVerifier(ctx context.Context, issuer string, clientID string) (ClaimsVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return func(ctx context.Context, raw string) (map[string]any, error) {
		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, err
		}
		claims := map[string]any{}
		if err := idToken.Claims(&claims); err != nil {
			return nil, err
		}
		return claims, nil
	}, nil
}

// Authentication requires a bearer token and copies its subject and tenant claim into the request context.
func Authentication(logger ectologger.Logger, verify ClaimsVerifier, tenantClaim string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return httperror.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
			claims, err := verify(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			cancel()
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return httperror.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			tenantID, _ := claims[tenantClaim].(string)
			if tenantID == "" {
				logger.WithContext(ctx).Warnf("token has no %s claim", tenantClaim)
				return httperror.NewHTTPError(http.StatusForbidden, "token is not bound to a tenant")
			}
			subject, _ := claims["sub"].(string)

			ctx = fernctx.SetTenantID(ctx, tenantID)
			ctx = fernctx.SetUserID(ctx, subject)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// HeaderAuth trusts the X-Tenant-ID and X-User-ID headers. Only for deployments with auth disabled.
func HeaderAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			if tenantID := req.Header.Get(HeaderTenantID); tenantID != "" {
				ctx = fernctx.SetTenantID(ctx, tenantID)
			}
			if userID := req.Header.Get(HeaderUserID); userID != "" {
				ctx = fernctx.SetUserID(ctx, userID)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
