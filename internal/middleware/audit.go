package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/logs"
	"licensehub/internal/metrics"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one access log line per request through logrus.
// License keys and bodies are never logged.
func RequestLogger(logger logrus.FieldLogger) echo.MiddlewareFunc {
	log := logs.Component(logger, "http")
	return echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":     v.Method,
				"path":       v.URIPath,
				"route":      v.RoutePath,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"ip":         v.RemoteIP,
				"user_agent": v.UserAgent,
			})
			if caller, ok := common.GetCallerFromContext(c.Request().Context()); ok {
				entry = entry.WithField("admin_id", caller.ID)
			}
			if code, ok := common.CodeOf(v.Error); ok {
				entry = entry.WithField("code", code)
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				entry.WithError(v.Error).Error("Request failed")
			case v.Status >= http.StatusBadRequest:
				entry.Warn("Request rejected")
			default:
				entry.Info("Request completed")
			}
			return nil
		},
	})
}

// RequestMetrics records request counts and latency per route
func RequestMetrics(recorder *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = errorStatus(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			recorder.HTTPRequest(route, c.Request().Method, strconv.Itoa(status), time.Since(start).Seconds())
			return err
		}
	}
}

func errorStatus(err error) int {
	if code, ok := common.CodeOf(err); ok {
		return common.HTTPStatus(code)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every handler error as the standard JSON envelope
func ErrorHandler(logger logrus.FieldLogger) echo.HTTPErrorHandler {
	log := logs.Component(logger, "http")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if _, ok := common.CodeOf(err); !ok && errors.As(err, &he) {
			code := common.ErrorCode(strings.ReplaceAll(http.StatusText(he.Code), " ", ""))
			message, _ := he.Message.(string)
			if message == "" {
				message = http.StatusText(he.Code)
			}
			if he.Code == http.StatusNotFound {
				code = common.CodeNotFound
			}
			err = c.JSON(he.Code, common.CreateErrorResponse(string(code), message, nil))
		} else {
			if common.IsCode(err, common.CodeStoreUnavailable) {
				log.WithError(err).Error("License store unavailable")
			} else if _, ok := common.CodeOf(err); !ok {
				log.WithError(err).Error("Unhandled error")
			}
			err = common.SendError(c, err)
		}
		if err != nil {
			log.WithError(err).Warn("Failed to write error response")
		}
	}
}
