package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/service"
)

const maxBodyBytes = 1 << 20

// MonitorControl is the monitor surface exposed over HTTP
type MonitorControl interface {
	Start(ctx context.Context) error
	Stop()
	Status() service.MonitorStatus
	EnsureRunning(ctx context.Context) (bool, error)
}

// Matching runs and reads matches
type Matching interface {
	MatchListing(ctx context.Context, listingID domain.ID) (*domain.MatchResult, error)
	ProcessListing(ctx context.Context, draft domain.ListingDraft) (*domain.MatchResult, error)
	GetListing(ctx context.Context, id domain.ID) (*domain.Listing, error)
	ExistingMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchRecord, error)
}

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the control API for the monitor and matching runs
type Server struct {
	monitor  MonitorControl
	matching Matching
	store    Pinger
	log      zerolog.Logger

	server *http.Server
	addr   string
}

// NewServer creates a new API server
func NewServer(monitor MonitorControl, matching Matching, store Pinger, addr string, logger zerolog.Logger) *Server {
	return &Server{
		monitor:  monitor,
		matching: matching,
		store:    store,
		log:      logger.With().Str("component", "api").Logger(),
		addr:     addr,
	}
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// JSON sends a JSON response with the given status code
func (s *Server) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// Error sends a JSON error response with the given status code
func (s *Server) Error(w http.ResponseWriter, status int, message string) {
	s.JSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// fail maps domain errors to HTTP statuses
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var storeErr *domain.StoreError
	var connErr *domain.ConnectError
	switch {
	case errors.Is(err, domain.ErrInvalidDraft):
		status = http.StatusBadRequest
	case errors.As(err, &storeErr):
		status = http.StatusBadGateway
	case errors.As(err, &connErr):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.Error(w, status, err.Error())
}

// handleHealth reports monitor state and store reachability
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	storeStatus := "pass"
	status := "ok"
	code := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("store ping failed")
			storeStatus = "fail"
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	s.JSON(w, code, map[string]interface{}{
		"success":   code == http.StatusOK,
		"status":    status,
		"store":     storeStatus,
		"monitor":   s.monitor.Status(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Start(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"monitor": s.monitor.Status(),
	})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	s.monitor.Stop()
	s.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"monitor": s.monitor.Status(),
	})
}

// handleHealthCheck is pinged by the workflow engine; it restarts a stopped monitor
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()
	if st.State == service.StateListening {
		s.JSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"status":        "active",
			"message_count": st.MessageCount,
		})
		return
	}

	if _, err := s.monitor.EnsureRunning(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("monitor restart from health check failed")
		s.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"status":  "error",
			"error":   err.Error(),
		})
		return
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "restarting",
	})
}

// handleCreateListing inserts a listing and matches it in one call
func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var draft domain.ListingDraft
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&draft); err != nil {
		s.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.matching.ProcessListing(r.Context(), draft)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.JSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"listing_id": result.ListingID,
		"listing":    result.Listing,
		"matches":    result.Matches,
		"skipped":    result.Skipped,
	})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "id"))
	listing, err := s.matching.GetListing(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if listing == nil {
		s.Error(w, http.StatusNotFound, "listing not found")
		return
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"listing": listing,
	})
}

// handleMatchListing runs matching for a stored listing
func (s *Server) handleMatchListing(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "id"))
	result, err := s.matching.MatchListing(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !result.Found {
		s.JSON(w, http.StatusNotFound, map[string]interface{}{
			"success":    false,
			"error":      "listing not found",
			"listing_id": id,
			"matches":    []domain.MatchRecord{},
		})
		return
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"listing_id": result.ListingID,
		"matches":    result.Matches,
		"skipped":    result.Skipped,
	})
}

func (s *Server) handleListingMatches(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "id"))
	s.writeMatches(w, r, domain.MatchFilter{ListingID: &id})
}

// handleMatches lists matches, optionally filtered by listing_id and notified
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	var filter domain.MatchFilter
	q := r.URL.Query()
	if v := q.Get("listing_id"); v != "" {
		id := domain.ID(v)
		filter.ListingID = &id
	}
	if v := q.Get("notified"); v != "" {
		notified, err := strconv.ParseBool(v)
		if err != nil {
			s.Error(w, http.StatusBadRequest, "notified must be true or false")
			return
		}
		filter.Notified = &notified
	}
	s.writeMatches(w, r, filter)
}

func (s *Server) writeMatches(w http.ResponseWriter, r *http.Request, filter domain.MatchFilter) {
	matches, err := s.matching.ExistingMatches(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(matches),
		"matches": matches,
	})
}
