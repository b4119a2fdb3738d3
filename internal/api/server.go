package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/database"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/listener"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/queue"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// JobStatusSource looks up settlement jobs by ID
type JobStatusSource interface {
	Status(ctx context.Context, jobID string) (*queue.JobStatus, error)
}

// ChainHealthSource reports the latest destination chain probes
type ChainHealthSource interface {
	Health() []blockchain.ChainHealth
}

// SettlementSource reads the settlement journal
type SettlementSource interface {
	GetSettlementsByMessage(ctx context.Context, messageID string) ([]*database.Settlement, error)
	GetFailedSettlements(ctx context.Context, limit int) ([]*database.Settlement, error)
	HealthCheck(ctx context.Context) error
}

// Server is the operations HTTP server of the relayer
type Server struct {
	router   *mux.Router
	server   *http.Server
	logger   zerolog.Logger
	jobs     JobStatusSource
	chains   ChainHealthSource
	watchers map[string]listener.Watcher
	journal  SettlementSource
	started  time.Time
}

// NewServer creates a new ops server. watchers is keyed by network name.
func NewServer(
	cfg config.ServerConfig,
	jobs JobStatusSource,
	chains ChainHealthSource,
	watchers map[string]listener.Watcher,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
		jobs:     jobs,
		chains:   chains,
		watchers: watchers,
		started:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        s.router,
		ReadTimeout:    config.Duration(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout:   config.Duration(cfg.WriteTimeout, 30*time.Second),
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	v1.HandleFunc("/chains", s.handleChains).Methods("GET")
	v1.HandleFunc("/settlements/failed", s.handleFailedSettlements).Methods("GET")
	v1.HandleFunc("/settlements/{message}", s.handleMessageSettlements).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoverMiddleware)
}

// SetJournal enables the settlement endpoints
func (s *Server) SetJournal(journal SettlementSource) {
	s.journal = journal
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Starting API server")

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) watcherStates() (map[string]string, bool) {
	states := make(map[string]string, len(s.watchers))
	connected := true
	for name, w := range s.watchers {
		state := w.State()
		states[name] = state.String()
		if state != listener.StateConnected {
			connected = false
		}
	}
	return states, connected
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states, _ := s.watcherStates()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "metabridge-relayer",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"watchers":  states,
		"timestamp": time.Now().UTC(),
	})
}

// handleReady requires every watcher to hold a live subscription and the
// journal, when enabled, to answer
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.journal != nil {
		if err := s.journal.HealthCheck(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "database not ready", err)
			return
		}
	}

	states, connected := s.watcherStates()
	if !connected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not ready",
			"watchers": states,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"watchers": states,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := s.jobs.Status(r.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("Failed to load job status")
		respondError(w, http.StatusInternalServerError, "failed to load job", err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	var chains []blockchain.ChainHealth
	if s.chains != nil {
		chains = s.chains.Health()
	}
	if chains == nil {
		chains = []blockchain.ChainHealth{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chains": chains,
		"total":  len(chains),
	})
}

func (s *Server) handleMessageSettlements(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotFound, "settlement journal disabled", nil)
		return
	}

	message := mux.Vars(r)["message"]
	settlements, err := s.journal.GetSettlementsByMessage(r.Context(), message)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settlements", err)
		return
	}
	if len(settlements) == 0 {
		respondError(w, http.StatusNotFound, "no settlements for message", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message_id":  message,
		"settlements": settlements,
	})
}

func (s *Server) handleFailedSettlements(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotFound, "settlement journal disabled", nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	settlements, err := s.journal.GetFailedSettlements(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settlements", err)
		return
	}
	if settlements == nil {
		settlements = []*database.Settlement{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settlements": settlements,
		"total":       len(settlements),
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				respondError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	respondJSON(w, status, response)
}
