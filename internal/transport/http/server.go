// Package http is the thin JSON adapter in front of the coordinator core.
// It owns no round logic itself: every handler decodes a request, calls a
// single Coordinator method, and maps the result (or *domain.Rejection) onto
// a status code and body.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/blindmix/coordinator/internal/core/application"
	log "github.com/sirupsen/logrus"
)

// Server wraps the Coordinator with its HTTP surface.
type Server struct {
	coordinator *application.Coordinator
	mux         *http.ServeMux
	log         *log.Entry
}

// New builds a Server with every route from the design wired to its handler.
func New(coordinator *application.Coordinator) *Server {
	s := &Server{
		coordinator: coordinator,
		mux:         http.NewServeMux(),
		log:         log.WithField("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /states", s.handleStates)
	s.mux.HandleFunc("POST /inputs", s.handleRegisterInputs)
	s.mux.HandleFunc("POST /confirmation", s.handleConfirmation)
	s.mux.HandleFunc("POST /unconfirmation", s.handleUnconfirmation)
	s.mux.HandleFunc("POST /output", s.handleRegisterOutput)
	s.mux.HandleFunc("GET /coinjoin/{unique_id}", s.handleGetCoinJoin)
	s.mux.HandleFunc("POST /signatures", s.handlePostSignatures)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	BanMins int    `json:"ban_minutes_remaining,omitempty"`
}
