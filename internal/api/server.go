package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dasim/internal/sim"
	"dasim/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Server exposes a running simulation over REST and websocket. Stored runs
// are served when a store is attached.
type Server struct {
	sim    *sim.Simulation
	store  *store.Store
	router *mux.Router
	hub    *Hub
	cors   *cors.Cors
}

// NewServer wires the routes for s. st may be nil.
func NewServer(s *sim.Simulation, st *store.Store, allowedOrigins []string) *Server {
	srv := &Server{
		sim:    s,
		store:  st,
		router: mux.NewRouter(),
		hub:    NewHub(),
		cors: cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}),
	}
	srv.setupRoutes()
	s.AddObserver(srv.hub)
	return srv
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Live run
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/book", s.handleBook).Methods("GET")
	api.HandleFunc("/depth", s.handleDepth).Methods("GET")
	api.HandleFunc("/quote", s.handleQuote).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/agents", s.handleAgents).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")

	// Stored runs
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleRun).Methods("GET")
	api.HandleFunc("/runs/{id}/history", s.handleRunHistory).Methods("GET")
	api.HandleFunc("/runs/{id}/trades", s.handleRunTrades).Methods("GET")
	api.HandleFunc("/runs/{id}/agents", s.handleRunAgents).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("api server listening")
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// ---- Live run ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		RunID:  s.sim.RunID(),
		Model:  s.sim.Model(),
		Seed:   s.sim.Seed(),
		Round:  s.sim.Round(),
		Rounds: s.sim.Rounds(),
		Done:   s.sim.Done(),
		Stats:  s.sim.Stats(),
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.sim.Engine().Snapshot())
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.sim.Engine().Depth())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.sim.Engine().Quote())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid from", v)
			return
		}
		from = n
	}
	respondJSON(w, s.sim.History().Points(from))
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.sim.Results())
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	report, err := s.sim.SubmitUserOrder(req.User, req.order())
	switch {
	case errors.Is(err, sim.ErrUnknownUser):
		respondError(w, http.StatusNotFound, "unknown user", req.User)
		return
	case errors.Is(err, sim.ErrDone):
		respondError(w, http.StatusConflict, "simulation finished", "")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "submission failed", err.Error())
		return
	}
	respondJSON(w, report)
}

// ---- Stored runs ----

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	runs, err := s.store.Runs()
	respondStored(w, runs, err)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	run, err := s.store.LoadRun(id)
	respondStored(w, run, err)
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	points, err := s.store.LoadHistory(id)
	respondStored(w, points, err)
}

func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	trades, err := s.store.LoadTrades(id)
	respondStored(w, trades, err)
}

func (s *Server) handleRunAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	results, err := s.store.LoadResults(id)
	respondStored(w, results, err)
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence disabled", "")
		return false
	}
	return true
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if !s.requireStore(w) {
		return uuid.Nil, false
	}
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id", raw)
		return uuid.Nil, false
	}
	return id, true
}

// ---- Helpers ----

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("unable to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func respondStored(w http.ResponseWriter, data any, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "store error", err.Error())
	default:
		respondJSON(w, data)
	}
}
