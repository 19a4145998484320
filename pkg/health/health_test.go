package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, checker *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	checker.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	code, resp := serve(t, NewChecker("1.0.0"), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestReadiness_BeforeStartup(t *testing.T) {
	code, resp := serve(t, NewChecker("1.0.0"), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Checks["startup"].Status)
}

func TestReadiness_Checks(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.SetReady(true)
	checker.AddCheck("database", func(context.Context) error { return nil })

	code, resp := serve(t, checker, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Checks["database"].Status)

	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	code, resp = serve(t, checker, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"].Message)
}

func TestNilCheck(t *testing.T) {
	checker := NewChecker("")
	checker.AddCheck("kafka", nil)

	results := checker.RunChecks(context.Background())
	assert.Equal(t, "not configured", results["kafka"].Message)
}
