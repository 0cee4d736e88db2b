package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/journal"
	"github.com/StrathCole/feedguard/pkg/policy"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 64 << 10

// ValueRequest is the body of the heartbeat and threshold endpoints.
type ValueRequest struct {
	Value *uint64 `json:"value"`
}

var errValueRequired = errors.New("value is required")

// handleSetHeartbeat changes a feed's heartbeat.
func (s *Server) handleSetHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if !s.decodeValue(w, r, &req) {
		return
	}
	change, err := s.feeds.SetHeartbeat(r.Context(), r.PathValue("name"), *req.Value)
	s.sendChange(w, change, err)
}

// handleSetThreshold changes a feed's deviation threshold.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if !s.decodeValue(w, r, &req) {
		return
	}
	change, err := s.feeds.SetDeviationThreshold(r.Context(), r.PathValue("name"), *req.Value)
	s.sendChange(w, change, err)
}

// handleSetPrimary replaces a feed's primary source.
func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	var sc config.SourceConfig
	if !s.decodeSource(w, r, &sc) {
		return
	}
	change, err := s.feeds.SetPrimary(r.Context(), r.PathValue("name"), sc)
	s.sendChange(w, change, err)
}

// handleSetFallback replaces a feed's fallback source.
func (s *Server) handleSetFallback(w http.ResponseWriter, r *http.Request) {
	var sc config.SourceConfig
	if !s.decodeSource(w, r, &sc) {
		return
	}
	change, err := s.feeds.SetFallback(r.Context(), r.PathValue("name"), sc)
	s.sendChange(w, change, err)
}

// handleDisableFallback removes a feed's fallback source.
func (s *Server) handleDisableFallback(w http.ResponseWriter, r *http.Request) {
	change, err := s.feeds.DisableFallback(r.Context(), r.PathValue("name"))
	s.sendChange(w, change, err)
}

// handleChanges lists recorded configuration changes.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.changes == nil {
		writeError(w, http.StatusNotFound, "journal_disabled", "change journal is disabled")
		return
	}

	limit := journal.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	entries, err := s.changes.List(r.Context(), r.URL.Query().Get("feed"), limit)
	if err != nil {
		s.logger.Error("Failed to list changes", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "journal_error", "failed to list changes")
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

func (s *Server) decodeValue(w http.ResponseWriter, r *http.Request, req *ValueRequest) bool {
	if err := decodeBody(r, req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", errValueRequired.Error())
		return false
	}
	return true
}

func (s *Server) decodeSource(w http.ResponseWriter, r *http.Request, sc *config.SourceConfig) bool {
	if err := decodeBody(r, sc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	if sc.Type == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", config.ErrSourceTypeRequired.Error())
		return false
	}
	return true
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) sendChange(w http.ResponseWriter, change policy.Change, err error) {
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, change)
}
