package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/feedguard/pkg/feeds"
	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/policy"
)

// PriceResponse is returned by the latest and strict endpoints.
type PriceResponse struct {
	Feed         string    `json:"feed"`
	Price        string    `json:"price"`
	DecimalPrice string    `json:"decimal_price,omitempty"`
	Decimals     *uint8    `json:"decimals,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
	UsedFallback bool      `json:"used_fallback"`
}

// ObservationView renders an observation with its value as a string.
type ObservationView struct {
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Valid      bool      `json:"valid"`
}

// ObservationsResponse is returned by the observations endpoint.
type ObservationsResponse struct {
	Feed     string          `json:"feed"`
	Primary  ObservationView `json:"primary"`
	Fallback ObservationView `json:"fallback"`
}

// DeviationResponse is returned by the deviation endpoint.
// DeviationBps is omitted when either side is invalid.
type DeviationResponse struct {
	Feed            string  `json:"feed"`
	WithinThreshold bool    `json:"within_threshold"`
	DeviationBps    *uint64 `json:"deviation_bps"`
	MaxDeviationBps uint64  `json:"max_deviation_bps"`
}

// StalenessResponse is returned by the staleness endpoint.
type StalenessResponse struct {
	Feed          string `json:"feed"`
	PrimaryStale  bool   `json:"primary_stale"`
	FallbackStale bool   `json:"fallback_stale"`
}

// MetadataResponse is returned by the metadata endpoint.
type MetadataResponse struct {
	Feed        string `json:"feed"`
	Decimals    uint8  `json:"decimals"`
	Description string `json:"description"`
}

// handleFeeds lists all feeds.
func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.feeds.List())
}

// handleFeed describes one feed.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	info, err := s.feeds.Info(r.PathValue("name"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

// handleLatest resolves a price with fallback.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := s.feeds.Latest(ctx, name)
	if err != nil {
		s.sendError(w, err)
		return
	}

	resp := s.priceResponse(ctx, name, res.Price)
	resp.UpdatedAt = res.UpdatedAt.UTC()
	resp.UsedFallback = res.UsedFallback
	s.sendJSON(w, http.StatusOK, resp)
}

// handleStrict resolves a price from the primary only.
func (s *Server) handleStrict(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	price, err := s.feeds.Strict(ctx, name)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.priceResponse(ctx, name, price))
}

// priceResponse renders a price, adding the decimal form when the primary reports its decimals.
func (s *Server) priceResponse(ctx context.Context, name string, price *big.Int) PriceResponse {
	resp := PriceResponse{Feed: name, Price: price.String()}

	decimals, _, err := s.feeds.Metadata(ctx, name)
	if err != nil {
		s.logger.Debug("Decimals unavailable", "feed", name, "error", err.Error())
		return resp
	}
	resp.Decimals = &decimals
	resp.DecimalPrice = decimal.NewFromBigInt(price, -int32(decimals)).StringFixed(int32(decimals))
	return resp
}

// handleObservations returns both raw observations.
func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	primary, fallback, err := s.feeds.Observations(ctx, name)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ObservationsResponse{
		Feed:     name,
		Primary:  observationView(primary),
		Fallback: observationView(fallback),
	})
}

func observationView(o policy.Observation) ObservationView {
	value := "0"
	if o.Value != nil {
		value = o.Value.String()
	}
	return ObservationView{Value: value, ObservedAt: o.ObservedAt.UTC(), Valid: o.Valid}
}

// handleDeviation compares primary and fallback.
func (s *Server) handleDeviation(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	info, err := s.feeds.Info(name)
	if err != nil {
		s.sendError(w, err)
		return
	}
	d, err := s.feeds.Deviation(ctx, name)
	if err != nil {
		s.sendError(w, err)
		return
	}

	resp := DeviationResponse{
		Feed:            name,
		WithinThreshold: d.WithinThreshold,
		MaxDeviationBps: info.Params.MaxDeviationBps,
	}
	if d.DeviationBps != policy.DeviationUndefined {
		bps := d.DeviationBps
		resp.DeviationBps = &bps
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleStaleness reports staleness of both sides.
func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	primaryStale, fallbackStale, err := s.feeds.Staleness(ctx, name)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, StalenessResponse{Feed: name, PrimaryStale: primaryStale, FallbackStale: fallbackStale})
}

// handleMetadata returns the primary source's decimals and description.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	decimals, description, err := s.feeds.Metadata(ctx, name)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, MetadataResponse{Feed: name, Decimals: decimals, Description: description})
}

// sendError maps domain errors to HTTP statuses.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	status, reason := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Request failed", "reason", reason, "error", err.Error())
	}
	writeError(w, status, reason, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, feedset.ErrUnknownFeed):
		return http.StatusNotFound, "unknown_feed"
	case errors.Is(err, policy.ErrNoValidPrice):
		return http.StatusServiceUnavailable, "no_valid_price"
	case errors.Is(err, policy.ErrStalePrice):
		return http.StatusConflict, "stale_price"
	case errors.Is(err, policy.ErrInvalidPrice):
		return http.StatusConflict, "invalid_price"
	case errors.Is(err, policy.ErrInvalidHeartbeat):
		return http.StatusBadRequest, "invalid_heartbeat"
	case errors.Is(err, policy.ErrInvalidThreshold):
		return http.StatusBadRequest, "invalid_threshold"
	case errors.Is(err, policy.ErrZeroAddress):
		return http.StatusBadRequest, "zero_address"
	case errors.Is(err, feeds.ErrUnknownFeedType), errors.Is(err, feeds.ErrInvalidConfig), errors.Is(err, feeds.ErrMissingKey):
		return http.StatusBadRequest, "invalid_source"
	case errors.Is(err, policy.ErrMetadataUnsupported):
		return http.StatusNotImplemented, "metadata_unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}
