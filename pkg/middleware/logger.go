package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
)

// Logger writes one structured line per request after the handler and error handler ran.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			ctx := req.Context()

			fields := fernctx.Fields(ctx)
			fields["method"] = req.Method
			fields["uri"] = req.RequestURI
			fields["route"] = c.Path()
			fields["status"] = res.Status
			fields["remote_ip"] = c.RealIP()
			fields["user_agent"] = req.UserAgent()
			fields["response_time"] = time.Since(start).String()
			fields["response_size"] = res.Size

			log := logger.WithContext(ctx).WithFields(fields)
			if res.Status >= 500 {
				log.Warn("Request")
			} else {
				log.Info("Request")
			}
			return nil
		}
	}
}
