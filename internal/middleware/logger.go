package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/logging"
)

// RequestLogger writes one slog record per request.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.RequestID != "" {
				attrs = append(attrs, "request_id", v.RequestID)
			}
			if uid := UserID(c); uid != "" {
				attrs = append(attrs, "user_id", uid)
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
				logger.Warn("request failed", attrs...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	})
}

// ErrorHandler renders errors that reach echo as {"error": "..."}.
// Domain errors map through apperr; anything unknown becomes a generic
// 500 and is logged with its oops code and context.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var status int
		var msg string
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = fmt.Sprint(he.Message)
			if he.Internal != nil {
				err = he.Internal
			}
		} else {
			status = apperr.HTTPStatus(err)
			msg = apperr.PublicMessage(err)
		}
		if status >= http.StatusInternalServerError {
			logging.LogError(logger, "unhandled error", err, "path", c.Path())
			msg = "internal server error"
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, echo.Map{"error": msg})
		}
		if err != nil {
			logger.Error("write error response", "error", err)
		}
	}
}
