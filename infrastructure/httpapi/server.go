// Package httpapi exposes the scoring engine over HTTP: single-record
// scoring, batch uploads, a health probe and the Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-anthro/infrastructure/normalize"
	"github.com/ahrav/go-anthro/internal/application"
	"github.com/ahrav/go-anthro/internal/domain"
)

// Defaults applied by NewServer.
const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadRate     = rate.Limit(5)
	DefaultUploadBurst    = 10
)

// BatchRunner processes an uploaded CSV/TSV payload.
// *application.BatchProcessor implements it.
type BatchRunner interface {
	Process(ctx context.Context, payload []byte, filename string) (*domain.BatchOutcome, error)
}

var _ BatchRunner = (*application.BatchProcessor)(nil)

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	scorer     application.Scorer
	batch      BatchRunner
	normalizer *normalize.Normalizer
	gatherer   prometheus.Gatherer
	logger     *log.Logger

	maxUpload      int64
	timeout        time.Duration
	uploadRate     rate.Limit
	uploadBurst    int
	allowedOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps the size of a batch upload request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithRequestTimeout bounds the handling time of every request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithUploadRate throttles the batch endpoint with a token bucket.
// A non-positive limit disables throttling.
func WithUploadRate(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.uploadRate = limit
		s.uploadBurst = burst
	}
}

// WithGatherer exposes gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigins sets the CORS allow list.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer wires a Server. The normalizer defaults to normalize.New().
func NewServer(scorer application.Scorer, batch BatchRunner, opts ...Option) (*Server, error) {
	if scorer == nil || batch == nil {
		return nil, fmt.Errorf("%w: scorer and batch runner are required", domain.ErrInvalidConfiguration)
	}
	s := &Server{
		scorer:         scorer,
		batch:          batch,
		normalizer:     normalize.New(),
		gatherer:       prometheus.DefaultGatherer,
		logger:         log.New("anthro-http"),
		maxUpload:      DefaultMaxUploadBytes,
		timeout:        DefaultRequestTimeout,
		uploadRate:     DefaultUploadRate,
		uploadBurst:    DefaultUploadBurst,
		allowedOrigins: []string{"http://localhost:3000"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/score", func(r chi.Router) {
		r.Post("/individual", s.scoreIndividual)
		r.With(RateLimit(s.uploadRate, s.uploadBurst)).Post("/batch", s.scoreBatch)
	})
	return r
}
