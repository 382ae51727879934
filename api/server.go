// Package api exposes the HTTP and WebSocket surface of the daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keplerhq/kepler/broadcast"
	"github.com/keplerhq/kepler/persist"
	"github.com/keplerhq/kepler/run"
)

// Server routes run commands, status queries, and progress streams.
type Server struct {
	coordinator *run.Coordinator
	registry    *broadcast.Registry
	upgrader    websocket.Upgrader
	metrics     prometheus.Gatherer
	httpServer  *http.Server
}

// Response is the common JSON envelope.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer wires the API around its collaborators. The gatherer backs
// GET /metrics; pass prometheus.DefaultGatherer unless tests need
// isolation.
func NewServer(coordinator *run.Coordinator, registry *broadcast.Registry, metrics prometheus.Gatherer) *Server {
	return &Server{
		coordinator: coordinator,
		registry:    registry,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon has no cross-origin story yet; accept all.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/api/runs", s.startRunHandler).Methods("POST")
	r.HandleFunc("/api/runs/{id}", s.getRunHandler).Methods("GET")
	r.HandleFunc("/api/runs/{id}/stream", s.streamHandler).Methods("GET")
	return r
}

// Start serves the API on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open
	}
	log.Printf("api listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) startRunHandler(w http.ResponseWriter, r *http.Request) {
	var cmd run.StartCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.sendResponse(w, http.StatusBadRequest, Response{Message: "invalid request body: " + err.Error()})
		return
	}
	if err := cmd.Validate(); err != nil {
		s.sendResponse(w, http.StatusBadRequest, Response{Message: err.Error()})
		return
	}

	started, err := s.coordinator.Start(r.Context(), cmd)
	if err != nil {
		if started.ID == "" {
			s.sendResponse(w, http.StatusInternalServerError, Response{Message: err.Error()})
			return
		}
		// Setup failed after the run was recorded; report the failed run.
		s.sendResponse(w, http.StatusBadGateway, Response{Message: err.Error(), Data: started})
		return
	}
	s.sendResponse(w, http.StatusAccepted, Response{Success: true, Data: started})
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	record, err := s.coordinator.Run(r.Context(), runID)
	if errors.Is(err, persist.ErrNotFound) {
		s.sendResponse(w, http.StatusNotFound, Response{Message: "run not found: " + runID})
		return
	}
	if err != nil {
		s.sendResponse(w, http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}
	s.sendResponse(w, http.StatusOK, Response{Success: true, Data: record})
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	broadcast.ServeWS(s.registry.Session(runID), conn)
	// The observer is gone; drop the session if nobody else needs it.
	s.registry.Evict(runID)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, http.StatusOK, Response{Success: true, Message: "ok"})
}

func (s *Server) sendResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}
