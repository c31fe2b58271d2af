package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/radar/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", ValidationError("bad"), TypeValidation, http.StatusBadRequest},
		{"forbidden", ForbiddenError("origin"), TypeForbidden, http.StatusForbidden},
		{"not found", NotFoundError("gone"), TypeNotFound, http.StatusNotFound},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"unavailable", UnavailableError("full"), TypeUnavailable, http.StatusServiceUnavailable},
		{"internal", InternalError("oops", cause), TypeInternal, http.StatusInternalServerError},
		{"unknown type", &Error{Type: "weird"}, "weird", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
		})
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "validation: bad input", ValidationError("bad input").Error())
	assert.Equal(t, "internal: failed: boom", InternalError("failed", errors.New("boom")).Error())
}

func TestUnwrapAndIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := InternalError("wrapped", sentinel)

	assert.ErrorIs(t, err, sentinel)
	assert.Nil(t, ValidationError("x").Unwrap())
}

func TestWithContext(t *testing.T) {
	err := UnavailableError("full").
		WithContext("reason", "global_limit").
		WithContext("limit", 10)

	assert.Equal(t, map[string]any{"reason": "global_limit", "limit": 10}, err.Context)

	bare := &Error{Type: TypeValidation}
	bare.WithContext("k", "v")
	assert.Equal(t, "v", bare.Context["k"])
}

func TestToResponse(t *testing.T) {
	resp := RateLimitedError("too many connections").WithContext("reason", "rate_limit").ToResponse()

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"too many connections","type":"rate_limited","context":{"reason":"rate_limit"}}`, string(data))

	data, err = json.Marshal(NotFoundError("nope").ToResponse())
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"nope","type":"not_found"}`, string(data))
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	structured := ForbiddenError("origin")
	assert.Same(t, structured, AsStructuredError(structured))
	assert.Same(t, structured, AsStructuredError(fmt.Errorf("upgrade: %w", structured)))

	plain := errors.New("disk on fire")
	converted := AsStructuredError(plain)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.ErrorIs(t, converted, plain)
}

func TestMiddleware_StructuredError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), rec)

	metrics.HTTPErrorsTotal.Reset()

	handler := Middleware()(func(c echo.Context) error {
		return UnavailableError("server at capacity").WithContext("reason", "global_limit")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "server at capacity", resp.Error)
	assert.Equal(t, TypeUnavailable, resp.Type)
	assert.Equal(t, "global_limit", resp.Context["reason"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPErrorsTotal.WithLabelValues("unavailable")))
}

func TestMiddleware_PlainErrorBecomesInternal(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	handler := Middleware()(func(c echo.Context) error {
		return errors.New("standard error")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "standard error")
}

func TestMiddleware_EchoErrorPassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/missing", nil), rec)

	metrics.HTTPErrorsTotal.Reset()

	handler := Middleware()(func(c echo.Context) error {
		return echo.ErrNotFound
	})

	err := handler(c)
	assert.Equal(t, echo.ErrNotFound, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPErrorsTotal.WithLabelValues("not_found")))
}

func TestMiddleware_NoError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	handler := Middleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusForbidden, TypeForbidden},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusMethodNotAllowed, TypeNotFound},
		{http.StatusTooManyRequests, TypeRateLimited},
		{http.StatusServiceUnavailable, TypeUnavailable},
		{http.StatusTeapot, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, WrapHTTPError(echo.NewHTTPError(tt.code)).Type)
		})
	}

	wrapped := WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, "bad origin"))
	assert.Equal(t, "bad origin", wrapped.Message)
}
