package sandbox

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/strata-labs/strata-go/internal/exec/remote"
)

// Server exposes the sandbox run API. Runs execute asynchronously; clients
// poll for the terminal state and fetch the result from the object store.
type Server struct {
	service *Service
	logger  *slog.Logger
	token   string

	mu   sync.Mutex
	runs map[string]*serverRun
}

type serverRun struct {
	status remote.RemoteStatus
	cancel context.CancelFunc
}

func NewServer(service *Service, token string, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("api token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		logger:  logger,
		token:   token,
		runs:    make(map[string]*serverRun),
	}, nil
}

// Handler returns the authenticated run API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.handleSubmit)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /v1/runs/{id}", s.handleCancel)
	return s.authenticate(mux)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayloadKey string `json:"payload_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.PayloadKey) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload_key is required"})
		return
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runs[id] = &serverRun{status: remote.RemoteStatus{State: remote.StateRunning}, cancel: cancel}
	s.mu.Unlock()

	go func() {
		defer cancel()
		resultKey, err := s.service.ExecutePayload(runCtx, req.PayloadKey)
		s.mu.Lock()
		defer s.mu.Unlock()
		run := s.runs[id]
		if run == nil {
			return
		}
		switch {
		case err == nil:
			run.status = remote.RemoteStatus{State: remote.StateSucceeded, ResultKey: resultKey}
		case errors.Is(err, context.Canceled):
			run.status = remote.RemoteStatus{State: remote.StateCancelled, Message: err.Error()}
		default:
			s.logger.Error("sandbox run failed", "id", id, "error", err)
			run.status = remote.RemoteStatus{State: remote.StateFailed, Message: err.Error()}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	run, ok := s.runs[id]
	var status remote.RemoteStatus
	if ok {
		status = run.status
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	run, ok := s.runs[id]
	if ok && !run.status.Terminal() {
		run.cancel()
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
