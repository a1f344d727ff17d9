// Package monitor serves the dashboard to local presentation clients.
package monitor

import (
	"Cerberus/internal/dashboard"
	"Cerberus/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dashboard is the set of operations exposed over HTTP.
type Dashboard interface {
	GetState() model.DashboardView
	Subscribe() (<-chan model.DashboardView, func())
	ClearTrafficLog()
	RequestTraining(ctx context.Context) error
	Login(ctx context.Context, username, password string) error
	Connect(ctx context.Context) error
	Logout()
	Refresh(ctx context.Context) error
}

// Server holds the dependencies for the HTTP handlers.
type Server struct {
	dash     Dashboard
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewServer builds the router. gatherer may be nil to leave /metrics out.
func NewServer(dash Dashboard, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		dash:   dash,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/state", s.stateHandler).Methods("GET")
	api.HandleFunc("/state/stream", s.streamHandler).Methods("GET")
	api.HandleFunc("/traffic", s.trafficHandler).Methods("GET")
	api.HandleFunc("/traffic/clear", s.clearTrafficHandler).Methods("POST")
	api.HandleFunc("/model/train", s.trainHandler).Methods("POST")
	api.HandleFunc("/login", s.loginHandler).Methods("POST")
	api.HandleFunc("/logout", s.logoutHandler).Methods("POST")
	api.HandleFunc("/refresh", s.refreshHandler).Methods("POST")

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Monitor: failed to write response: %v", err)
	}
}

// writeError maps dashboard errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *model.APIError
	var transportErr *model.TransportError
	var parseErr *model.ParseError
	switch {
	case errors.Is(err, model.ErrUnauthenticated), errors.Is(err, model.ErrNoToken):
		status = http.StatusUnauthorized
	case errors.Is(err, dashboard.ErrStaleRefresh):
		status = http.StatusConflict
	case errors.Is(err, dashboard.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.As(err, &apiErr), errors.As(err, &transportErr), errors.As(err, &parseErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.GetState())
}

// trafficHandler renders the traffic buffer as one line per packet, newest first.
func (s *Server) trafficHandler(w http.ResponseWriter, r *http.Request) {
	view := s.dash.GetState()
	var b strings.Builder
	for _, ev := range view.Traffic {
		when := "--:--:--"
		if !ev.Timestamp.IsZero() {
			when = ev.Timestamp.Local().Format("15:04:05")
		}
		fmt.Fprintf(&b, "[%s] %s\n", when, ev.Summary())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func (s *Server) clearTrafficHandler(w http.ResponseWriter, r *http.Request) {
	s.dash.ClearTrafficLog()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) trainHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.RequestTraining(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.dash.GetState().ModelStatus)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginHandler authenticates and then connects the dashboard.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if err := s.dash.Login(r.Context(), req.Username, req.Password); err != nil {
		writeError(w, err)
		return
	}
	if err := s.dash.Connect(r.Context()); err != nil {
		log.Printf("Monitor: connect after login: %v", err)
	}
	writeJSON(w, http.StatusOK, s.dash.GetState())
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	s.dash.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dash.GetState())
}
