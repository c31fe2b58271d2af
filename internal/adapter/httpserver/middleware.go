package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/radar/internal/platform/correlation"
)

// correlationMiddleware tags the request context with a correlation id,
// reusing a well-formed inbound X-Correlation-ID, and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.Resolve(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}
