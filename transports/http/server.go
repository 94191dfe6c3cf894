// Package httptransport binds agents to HTTP. Each agent is served at
// POST /a2a/{agent}; the Client implements messaging.Transport against it.
package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/health"
	"github.com/glimte/mandate-go/interceptors"
	"github.com/glimte/mandate-go/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxBodyBytes bounds request envelopes
const DefaultMaxBodyBytes = 1 << 20

// ErrorBody is the JSON body of every non-2xx agent response
type ErrorBody struct {
	Error contracts.ErrorInfo `json:"error"`
}

// StatusCode maps an agent error to its HTTP status
func StatusCode(err error) int {
	switch contracts.ErrorCode(err) {
	case contracts.CodeUnauthorized:
		return http.StatusUnauthorized
	case contracts.CodeValidation:
		return http.StatusBadRequest
	case contracts.CodeExpired:
		return http.StatusGone
	case contracts.CodeIntegrity:
		return http.StatusUnprocessableEntity
	case contracts.CodeSettlement:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Server hosts agents over HTTP
type Server struct {
	router     chi.Router
	agents     map[string]messaging.Handler
	serializer *messaging.JSONSerializer
	health     *health.Registry
	metrics    *interceptors.InMemoryMetrics
	maxBody    int64
	logger     *slog.Logger
	mu         sync.RWMutex
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithHealth serves registry at /healthz
func WithHealth(registry *health.Registry) ServerOption {
	return func(s *Server) {
		s.health = registry
	}
}

// WithMetrics serves collected request metrics at /metrics
func WithMetrics(metrics *interceptors.InMemoryMetrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithMaxBodyBytes bounds request envelopes
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) {
		s.maxBody = n
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server with no agents
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		agents:     make(map[string]messaging.Handler),
		serializer: messaging.NewJSONSerializer(),
		health:     health.NewRegistry(),
		maxBody:    DefaultMaxBodyBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/livez", health.LivenessHandler())
	r.Method(http.MethodGet, "/healthz", health.NewHandler(s.health, 5*time.Second))
	if s.metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.metrics.Snapshot())
		})
	}
	r.Route("/a2a", func(api chi.Router) {
		api.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"agents": s.Agents()})
		})
		api.Post("/{agent}", s.handleAgent)
	})
	return r
}

// Register serves handler under agent
func (s *Server) Register(agent string, handler messaging.Handler) error {
	if agent == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent]; exists {
		return fmt.Errorf("agent %s already registered", agent)
	}
	s.agents[agent] = handler
	s.logger.Info("serving agent over http", "agent", agent, "path", "/a2a/"+agent)
	return nil
}

// Agents returns the served agent names in sorted order
func (s *Server) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	s.mu.RLock()
	handler, ok := s.agents[agent]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: contracts.ErrorInfo{
			Code:    contracts.CodeValidation,
			Message: fmt.Sprintf("no agent %s", agent),
		}})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, contracts.Validation(agent, "envelope exceeds %d bytes", s.maxBody))
			return
		}
		s.writeError(w, contracts.Validation(agent, "read envelope: %v", err))
		return
	}
	msg, err := s.serializer.Deserialize(body)
	if err != nil {
		s.writeError(w, contracts.Validation(agent, "%v", err))
		return
	}

	reply, err := handler.HandleMessage(r.Context(), msg)
	if err != nil {
		s.logger.Debug("agent returned error",
			"agent", agent,
			"messageId", msg.MessageID,
			"requestId", middleware.GetReqID(r.Context()),
			"error", err)
		s.writeError(w, err)
		return
	}

	data, err := s.serializer.Serialize(reply)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusCode(err), ErrorBody{Error: contracts.NewErrorInfo(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
