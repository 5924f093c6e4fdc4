// Package server is the HTTP surface of the proxy: the orders endpoint, the
// completion pass-through and the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/aggregate"
	"github.com/Sternrassler/copytrade-orders/pkg/batch"
	"github.com/Sternrassler/copytrade-orders/pkg/completion"
	"github.com/Sternrassler/copytrade-orders/pkg/hoststatus"
	"github.com/Sternrassler/copytrade-orders/pkg/logging"
	"github.com/Sternrassler/copytrade-orders/pkg/metrics"
	"github.com/Sternrassler/copytrade-orders/pkg/pagination"
)

// OrdersRunner is implemented by *batch.Coordinator.
type OrdersRunner interface {
	Run(ctx context.Context, uids []string, tr pagination.TimeRange, cursor, maxPerCall int) batch.Result
}

// DefaultStaleAfter is the /status staleness window.
const DefaultStaleAfter = 15 * time.Minute

// Options holds request defaults and values echoed into responses.
type Options struct {
	APIKey            string
	RequestTimeout    time.Duration
	DefaultUIDs       []string
	DefaultLimit      int
	MaxPerCall        int
	PagesPerPortfolio int
	PageSize          int
	Policy            aggregate.SuccessPolicy

	// HostNames are the endpoint names reported by /status.
	HostNames []string

	// StaleAfter marks a host stale in /status when nothing was recorded
	// within it. Defaults to DefaultStaleAfter.
	StaleAfter time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Orders     OrdersRunner
	Completion *completion.Forwarder
	Hosts      *hoststatus.Tracker
}

// Server wraps the echo instance.
type Server struct {
	echo   *echo.Echo
	opts   Options
	deps   Deps
	logger zerolog.Logger
}

// failure is the error body of the orders and status endpoints.
type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// New creates the server and registers every route.
func New(opts Options, deps Deps) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPerCall <= 0 {
		opts.MaxPerCall = batch.DefaultPerCall
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	s := &Server{
		echo:   echo.New(),
		opts:   opts,
		deps:   deps,
		logger: logging.NewLogger("server"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = s.handleError

	e.Use(RequestLogging(s.logger))
	e.Use(CORS(CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderAPIKey},
	}))
	e.Use(Recover(s.logger))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	gated := e.Group("", APIKeyAuth(s.opts.APIKey))
	gated.GET("/api/binance/orders", s.handleOrders)
	gated.POST("/api/binance/orders", s.handleOrders)
	gated.GET("/status", s.handleStatus)

	// The completion routes check the method before the key.
	e.Any("/api/openai-proxy", s.handleCompletion)
	e.Any("/v1/chat/completions", s.handleCompletion)
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// handleError writes {success:false, error} for every unhandled error.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := errorStatus(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("Request failed")
	}

	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = writeJSON(c, code, failure{Error: msg})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to write error response")
	}
}

func errorStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
