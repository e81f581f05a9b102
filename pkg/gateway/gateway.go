// Package gateway exposes sessions and matchmaking over HTTP and websockets.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/dealroom/pkg/coordinator"
	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/identity"
	"github.com/aretw0/dealroom/pkg/matchmaking"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
)

// Server routes requests to a coordinator and a match finder.
type Server struct {
	coord    *coordinator.Coordinator
	finder   *matchmaking.Finder
	auth     identity.Provider
	logger   *slog.Logger
	upgrader websocket.Upgrader

	writeTimeout time.Duration
	pongWait     time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFinder enables the /matches endpoints.
func WithFinder(f *matchmaking.Finder) Option {
	return func(s *Server) { s.finder = f }
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// Without it every origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[strings.TrimRight(o, "/")] = true
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// WithKeepalive sets the websocket pong deadline; pings are sent at 9/10 of it.
func WithKeepalive(pongWait time.Duration) Option {
	return func(s *Server) {
		if pongWait > 0 {
			s.pongWait = pongWait
		}
	}
}

// New creates a server.
func New(coord *coordinator.Coordinator, auth identity.Provider, opts ...Option) *Server {
	s := &Server{
		coord:  coord,
		auth:   auth,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		pongWait:     defaultPongWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleSession)
	mux.HandleFunc("GET /matches", s.handleFindMatches)
	mux.HandleFunc("DELETE /matches", s.handleClearMatches)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// authenticate reads a bearer token from the Authorization header or, for
// browsers opening websockets, from the token query parameter.
func (s *Server) authenticate(r *http.Request) (identity.Identity, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if token == "" {
		return identity.Identity{}, identity.ErrUnauthenticated
	}
	return s.auth.Authenticate(r.Context(), token)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
	Payload string `json:"payload,omitempty"`
}

func newErrorBody(err error) errorBody {
	b := errorBody{Kind: domain.Kind(err), Message: err.Error()}
	if errors.Is(err, errUnknownAction) || errors.Is(err, errMissingVersion) {
		b.Kind = "bad_request"
	}
	var ite *domain.InvalidTransitionError
	if errors.As(err, &ite) {
		b.Rule = ite.Rule
	}
	var ese *domain.ExternalServiceError
	if errors.As(err, &ese) {
		b.Payload = string(ese.Payload)
	}
	return b
}

func statusFor(err error) int {
	var ese *domain.ExternalServiceError
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized
	case domain.IsRule(err, domain.RuleNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyCandidateSet):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &ese):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := newErrorBody(err)
	if status == http.StatusUnauthorized {
		body.Kind = "unauthenticated"
	}
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
