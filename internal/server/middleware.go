package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// HeaderAPIKey carries the shared internal key.
const HeaderAPIKey = "x-api-key"

const unauthorizedMessage = "Unauthorized: invalid x-api-key"

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
}

// CORS sets the allow headers on every response and answers preflight
// requests with 204.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, cfg.AllowOrigin)
			if methods != "" {
				h.Set(echo.HeaderAccessControlAllowMethods, methods)
			}
			if headers != "" {
				h.Set(echo.HeaderAccessControlAllowHeaders, headers)
			}

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// Recover turns a panic into an error for the HTTP error handler.
func Recover(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					logger.Error().
						Err(perr).
						Str("path", c.Request().URL.Path).
						Bytes("stack", debug.Stack()).
						Msg("Recovered from panic")
					err = perr
				}
			}()
			return next(c)
		}
	}
}

// RequestLogging logs one line per request.
func RequestLogging(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if err != nil {
				// The error handler has not written yet; report what it will send.
				status = errorStatus(err)
			}

			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote", c.RealIP()).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
			return err
		}
	}
}

// APIKeyAuth rejects requests whose x-api-key differs from key. An empty key
// disables the check.
func APIKeyAuth(key string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper:   func(echo.Context) bool { return key == "" },
		KeyLookup: "header:" + HeaderAPIKey,
		Validator: func(got string, _ echo.Context) (bool, error) {
			return keyMatches(key, got), nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return writeJSON(c, http.StatusUnauthorized, failure{Error: unauthorizedMessage})
		},
	})
}

// keyMatches reports whether got satisfies the required key.
func keyMatches(required, got string) bool {
	if required == "" {
		return true
	}
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(required), []byte(got)) == 1
}
