package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var errTimeoutBody = map[string]string{
	"message": "request processing exceeded the allowed time limit",
}

// RequestTimeout attaches a deadline to the request context and runs the
// handler on the request goroutine. A handler that returns after the
// deadline without having written a response gets a 504. Handlers and
// queries stop early only if they watch ctx; pgx does.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) || c.Response().Committed {
				return err
			}
			return c.JSON(http.StatusGatewayTimeout, errTimeoutBody)
		}
	}
}
