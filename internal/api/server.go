package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brunao23/GerenciaBH-sub000/internal/processor"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

// Pipeline runs the conversation pipeline for a tenant.
type Pipeline interface {
	Resolve(id string) (tenant.Context, error)
	Run(ctx context.Context, tc tenant.Context) (*processor.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	router   *chi.Mux
	port     int
	pipeline Pipeline
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, timeout time.Duration, pipeline Pipeline, checks map[string]HealthCheck, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		pipeline: pipeline,
		checks:   checks,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)

	router.Route("/api/v1/tenants/{tenant}", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Use(middleware.Timeout(timeout))
		r.Get("/conversations", s.conversations)
		r.Get("/conversations/{sessionID}", s.conversation)
		r.Get("/board", s.board)
		r.Get("/analytics", s.analytics)
	})

	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string, len(s.checks))
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			deps[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if code != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"service":      "gerencia",
		"status":       state,
		"dependencies": deps,
	})
}

// run resolves the tenant from the URL and runs the pipeline, writing the
// error response itself when it returns nil.
func (s *Server) run(w http.ResponseWriter, r *http.Request) *processor.Result {
	tc, err := s.pipeline.Resolve(chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	res, err := s.pipeline.Run(r.Context(), tc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "upstream timeout")
			return nil
		}
		s.logger.ErrorContext(r.Context(), "pipeline run failed", "tenant", tc.ID, "error", err)
		writeError(w, http.StatusBadGateway, "chat history unavailable")
		return nil
	}
	return res
}

func (s *Server) conversations(w http.ResponseWriter, r *http.Request) {
	res := s.run(w, r)
	if res == nil {
		return
	}
	type summary struct {
		SessionID       string    `json:"session_id"`
		NormalizedPhone string    `json:"normalized_phone,omitempty"`
		DisplayName     string    `json:"display_name"`
		LastMessage     string    `json:"last_message"`
		LastActivityAt  time.Time `json:"last_activity_at"`
		MessageCount    int       `json:"message_count"`
		HasError        bool      `json:"has_error"`
		HasSuccess      bool      `json:"has_success"`
	}
	out := make([]summary, 0, len(res.Sessions))
	for _, ses := range res.Sessions {
		out = append(out, summary{
			SessionID:       ses.SessionID,
			NormalizedPhone: ses.NormalizedPhone,
			DisplayName:     ses.DisplayName,
			LastMessage:     ses.LastMessage,
			LastActivityAt:  ses.LastActivityAt,
			MessageCount:    len(ses.Messages),
			HasError:        ses.HasError,
			HasSuccess:      ses.HasSuccess,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        res.RunID,
		"partial":       res.Degraded,
		"count":         len(out),
		"conversations": out,
	})
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) {
	res := s.run(w, r)
	if res == nil {
		return
	}
	ses, ok := res.Session(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, ses)
}

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	res := s.run(w, r)
	if res == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  res.RunID,
		"partial": res.Degraded,
		"merge":   res.Merge,
		"board":   res.Board,
	})
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	res := s.run(w, r)
	if res == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    res.RunID,
		"partial":   res.Degraded,
		"stats":     res.Stats,
		"analytics": res.Analytics,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
