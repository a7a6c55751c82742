package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/dispatcher"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
	"github.com/JakeFAU/novel-harvester/internal/metrics"
	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/queue"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultHeartbeat      = 15 * time.Second
	enqueueTimeout        = 5 * time.Second
)

// Submitter queues harvests and reports on them. *dispatcher.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req dispatcher.Request) (queue.Job, error)
	Job(ctx context.Context, jobID string) (queue.Job, error)
}

// HarvestControl is the slice of *harvest.Harvester the API drives.
type HarvestControl interface {
	Status(ctx context.Context, collectionID string) (harvest.Status, error)
	Reset(ctx context.Context, collectionID string) error
	SaveCurrentProgress(ctx context.Context, collectionID string) (harvest.Artifact, error)
}

// URLChecker validates a collection URL and derives its collection id.
type URLChecker interface {
	CheckURL(collectionURL string) (string, error)
}

// EventSource hands out per-collection event subscriptions.
type EventSource interface {
	Subscribe(collectionID string) (<-chan progress.Event, func())
}

// Deps are the collaborators behind the handlers. Metrics, MetricsHandler
// and Ready are optional.
type Deps struct {
	Submitter      Submitter
	Harvests       HarvestControl
	URLs           URLChecker
	Events         EventSource
	Metrics        *metrics.HTTP
	MetricsHandler http.Handler
	Ready          func(ctx context.Context) error
	Logger         *zap.Logger
}

// Options tune the server.
type Options struct {
	// APIKey, when set, is required in the X-API-Key header or api_key query parameter.
	APIKey         string
	RequestTimeout time.Duration
	// Heartbeat is the interval of keep-alive comments on event streams.
	Heartbeat time.Duration
}

// Server wires HTTP handlers to the dispatcher and harvester.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	s := &Server{deps: deps, opts: opts, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		// Event streams stay open, so they bypass the request timeout.
		r.Get("/collections/{collection_id}/events", s.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Post("/harvests", s.submitHarvest)
			r.Get("/jobs/{job_id}", s.getJob)
			r.Route("/collections/{collection_id}", func(r chi.Router) {
				r.Get("/progress", s.getProgress)
				r.Delete("/progress", s.deleteProgress)
				r.Post("/checkpoint", s.checkpoint)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
