package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/docket/pkg/usecase"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

type Server struct {
	router    *chi.Mux
	authUC    AuthUseCase
	task      *usecase.TaskUseCase
	operation *usecase.OperationUseCase
}

type Options func(*Server)

// WithAuth overrides the authentication of the use cases
func WithAuth(authUC AuthUseCase) Options {
	return func(s *Server) {
		s.authUC = authUC
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:    r,
		authUC:    uc.Auth,
		task:      uc.Task,
		operation: uc.Operation,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)

	r.Route("/task", func(r chi.Router) {
		r.Use(authMiddleware(s.authUC))

		r.Post("/", s.searchTasks)
		r.Post("/delete", s.deleteTasks)
		r.Post("/operation", s.performOperation)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Delete("/", s.terminateTask)
			r.Get("/roles", s.getTaskRoles)
			r.Post("/initiation", s.initiateTask)
			r.Post("/claim", s.claimTask)
			r.Post("/unclaim", s.unclaimTask)
			r.Post("/assign", s.assignTask)
			r.Post("/complete", s.completeTask)
			r.Post("/cancel", s.cancelTask)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger attaches a request scoped logger to the context
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(r.Context()).Warn("failed to write response", "error", err.Error())
	}
}
