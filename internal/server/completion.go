package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Sternrassler/copytrade-orders/pkg/completion"
)

const misconfiguredMessage = "Server misconfig: OPENAI_API_KEY not set"

// plainError is the error body of the completion routes.
type plainError struct {
	Error string `json:"error"`
}

func (s *Server) handleCompletion(c echo.Context) error {
	req := c.Request()
	if req.Method != http.MethodPost {
		return c.JSON(http.StatusMethodNotAllowed, plainError{Error: "Method Not Allowed"})
	}
	if !keyMatches(s.opts.APIKey, req.Header.Get(HeaderAPIKey)) {
		return c.JSON(http.StatusUnauthorized, plainError{Error: unauthorizedMessage})
	}
	if s.deps.Completion == nil || !s.deps.Completion.Configured() {
		return c.JSON(http.StatusInternalServerError, plainError{Error: misconfiguredMessage})
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, plainError{Error: "Read request body: " + err.Error()})
	}

	resp, err := s.deps.Completion.Forward(req.Context(), body)
	if errors.Is(err, completion.ErrMissingAPIKey) {
		return c.JSON(http.StatusInternalServerError, plainError{Error: misconfiguredMessage})
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Completion upstream unreachable")
		return c.JSON(http.StatusBadGateway, plainError{Error: "Proxy upstream error: " + err.Error()})
	}

	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}
