package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Sternrassler/copytrade-orders/pkg/hoststatus"
)

// statusResponse is the body of GET /status.
type statusResponse struct {
	Success bool                    `json:"success"`
	Blocked bool                    `json:"blocked"`
	Hosts   []hoststatus.HostStatus `json:"hosts"`
	Stale   []string                `json:"stale,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleStatus reports the recorded outcomes per upstream endpoint. Blocked
// is true when every endpoint's latest attempt was refused. Stale lists the
// endpoints with nothing recorded within StaleAfter.
func (s *Server) handleStatus(c echo.Context) error {
	if s.deps.Hosts == nil {
		return writeJSON(c, http.StatusServiceUnavailable, failure{Error: hoststatus.ErrDisabled.Error()})
	}

	hosts, err := s.deps.Hosts.Snapshot(c.Request().Context(), s.opts.HostNames)
	if err != nil {
		return err
	}

	blocked := len(hosts) > 0
	var stale []string
	for _, h := range hosts {
		if !h.IsBlocked() {
			blocked = false
		}
		if h.IsStale(s.opts.StaleAfter) {
			stale = append(stale, h.Endpoint)
		}
	}
	return writeJSON(c, http.StatusOK, statusResponse{Success: true, Blocked: blocked, Hosts: hosts, Stale: stale})
}
