// Package server exposes the quiz intake API: a single POST endpoint that
// authenticates the caller and kicks off a background solving session.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"quiznerd/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// QuizSolver is the capability the intake endpoint hands accepted requests
// to. *agent.Solver satisfies it.
type QuizSolver interface {
	Solve(ctx context.Context, email, secret, url string) error
}

// QuizRequest is the intake payload.
type QuizRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Server wires the router, the solver, and the one-session-at-a-time guard.
type Server struct {
	cfg    config.ServerConfig
	solver QuizSolver
	log    *zap.Logger

	// Guards the active session; a new accepted request cancels the
	// previous session before starting its own.
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.ServerConfig, solver QuizSolver, log *zap.Logger) *Server {
	return &Server{cfg: cfg, solver: solver, log: log}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.CORSOriginList()))

	r.Get("/health", s.handleHealth)
	r.Post("/quiz", s.handleQuiz)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": s.cfg.Name,
		"env":     s.cfg.Env,
	})
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	var req QuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Secret != s.cfg.StudentSecret {
		writeError(w, http.StatusForbidden, "Invalid secret")
		return
	}

	s.startSession(req)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "Quiz solving started",
		"echo":    req,
	})
}

// startSession replaces any running session with a new one. The previous
// session's context is cancelled; it winds down cooperatively while the new
// one starts.
func (s *Server) startSession(req QuizRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.log.Info("superseding active session")
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.solver.Solve(ctx, req.Email, req.Secret, req.URL); err != nil {
			s.log.Error("quiz session failed", zap.String("url", req.URL), zap.Error(err))
		}
	}()
}

// Shutdown cancels the active session, if any, and waits for it to exit.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}

// corsMiddleware applies a permissive-by-configuration CORS policy so the
// exercise dashboard can trigger runs from the browser.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
