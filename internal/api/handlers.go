// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/auditflow/ledgerbus/internal/bus"
	"github.com/auditflow/ledgerbus/internal/event"
	"github.com/auditflow/ledgerbus/internal/health"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

type errorResponse struct {
	Error string `json:"error"`
}

type historyResponse struct {
	Channel string           `json:"channel"`
	Count   int              `json:"count"`
	Events  []event.Envelope `json:"events"`
}

type dlqResponse struct {
	Channel  string           `json:"channel"`
	Count    int              `json:"count"`
	Messages []bus.DeadLetter `json:"messages"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, bus.ErrNotConnected) {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	events, err := s.bus.EventHistory(r.Context(), channel, parseLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []event.Envelope{}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Channel: channel, Count: len(events), Events: events})
}

func (s *Server) handleDLQMessages(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	msgs, err := s.bus.DLQMessages(r.Context(), channel, parseLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []bus.DeadLetter{}
	}
	s.writeJSON(w, http.StatusOK, dlqResponse{Channel: channel, Count: len(msgs), Messages: msgs})
}

func (s *Server) handleClearDLQ(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if err := s.bus.ClearDLQ(r.Context(), channel); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// liveness: the process is up; component state is reported but only
	// readiness gates traffic
	resp := s.health.Check(r.Context())
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := s.health.Check(r.Context())
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
