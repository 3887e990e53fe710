package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/queue"
	"github.com/dunamismax/shrinkpic/internal/ratelimit"
	"github.com/dunamismax/shrinkpic/internal/store"
	"github.com/dunamismax/shrinkpic/internal/telemetry"
	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const Version = "1.0.0"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ImageProcessor transforms one image of a batch.
type ImageProcessor interface {
	Process(ctx context.Context, data []byte, name string, params domain.ProcessingParameters) (domain.ProcessedResult, error)
}

type jobQueue interface {
	EnqueueProcessBatch(ctx context.Context, payload queue.ProcessBatchPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

type Options struct {
	Logger      *zap.Logger
	Processor   ImageProcessor
	Concurrency int

	// RateLimiter guards the processing routes; nil disables limiting.
	RateLimiter ratelimit.Limiter
	RatePolicy  ratelimit.Policy
	TrustProxy  bool
	CORSOrigins []string

	// Queue, Jobs and Storage enable the async job routes when all are set.
	Queue      jobQueue
	Jobs       store.JobStore
	Storage    objectStorage
	PresignTTL time.Duration
}

type Server struct {
	logger      *zap.Logger
	processor   ImageProcessor
	concurrency int
	rateLimiter ratelimit.Limiter
	ratePolicy  ratelimit.Policy
	trustProxy  bool
	corsOrigins []string
	queue       jobQueue
	jobs        store.JobStore
	storage     objectStorage
	presignTTL  time.Duration
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
	now         func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("image processor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.RatePolicy
	if policy.Validate() != nil {
		policy = ratelimit.DefaultPolicy()
	}
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}

	s := &Server{
		logger:      logger,
		processor:   opts.Processor,
		concurrency: max(1, opts.Concurrency),
		rateLimiter: opts.RateLimiter,
		ratePolicy:  policy,
		trustProxy:  opts.TrustProxy,
		corsOrigins: opts.CORSOrigins,
		queue:       opts.Queue,
		jobs:        opts.Jobs,
		storage:     opts.Storage,
		presignTTL:  presignTTL,
		metrics:     newMetrics(),
		tracer:      telemetry.Tracer("api"),
		mux:         http.NewServeMux(),
		now:         time.Now,
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}
	// rs/cors treats an empty list as "any origin"; no origins means none.
	if len(s.corsOrigins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	c := cors.New(opts)
	return c.Handler(s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /batch-compress", s.handleBatchCompress)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) asyncEnabled() bool {
	return s.queue != nil && s.jobs != nil && s.storage != nil
}

func (s *Server) availableRoutes() []string {
	routes := []string{"GET /", "GET /health", "GET /metrics", "POST /batch-compress"}
	if s.asyncEnabled() {
		routes = append(routes, "POST /v1/jobs", "GET /v1/jobs/{id}")
	}
	return routes
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"health":        "GET /",
		"batchCompress": "POST /batch-compress",
	}
	if s.asyncEnabled() {
		endpoints["createJob"] = "POST /v1/jobs"
		endpoints["getJob"] = "GET /v1/jobs/{id}"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"message":   "Batch Image Processing API is running",
		"version":   Version,
		"endpoints": endpoints,
		"rateLimit": map[string]any{
			"enabled": s.rateLimiter != nil,
			"max":     s.ratePolicy.Limit,
			"window":  s.ratePolicy.Describe(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rateLimit := "disabled"
	if s.rateLimiter != nil {
		rateLimit = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"rateLimit": rateLimit,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":           "Route not found",
		"path":            r.URL.Path,
		"method":          r.Method,
		"availableRoutes": s.availableRoutes(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
