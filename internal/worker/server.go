package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/shrinkpic/internal/config"
	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/pipeline"
	"github.com/dunamismax/shrinkpic/internal/queue"
	"github.com/dunamismax/shrinkpic/internal/store"
	"github.com/dunamismax/shrinkpic/internal/telemetry"
	"github.com/dunamismax/shrinkpic/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ObjectStore is the slice of the object storage client the worker needs.
type ObjectStore interface {
	pipeline.ObjectReader
	pipeline.ObjectWriter
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger    *zap.Logger
	server    *asynq.Server
	sem       chan struct{}
	processor *pipeline.Processor
	webhooks  webhookSender
	jobStore  store.JobStore
	metrics   *metrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	compress pipeline.CompressOptions,
	objects ObjectStore,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	if objects == nil {
		return nil, errors.New("object storage is required")
	}
	if jobStore == nil {
		return nil, errors.New("job store is required")
	}

	transformer, err := pipeline.NewTransformer(compress)
	if err != nil {
		return nil, fmt.Errorf("initialize transformer: %w", err)
	}

	s := &Server{
		logger: logger,
		sem:    make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor: pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: objects},
			transformer,
			pipeline.ObjectStoreEmitter{Storage: objects},
		),
		jobStore: jobStore,
		metrics:  newMetrics(),
		tracer:   telemetry.Tracer("worker"),
		now:      time.Now,
	}
	if webhookClient != nil {
		s.webhooks = webhookClient
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessBatch, s.handleProcessBatch)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("job.id", payload.JobID))
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	job, ok, err := s.jobStore.Get(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		return fmt.Errorf("load job %s: %w: %w", payload.JobID, store.ErrJobNotFound, asynq.SkipRetry)
	}
	if job.Terminal() {
		s.logger.Info("job already finished", zap.String("job_id", job.ID), zap.String("status", job.Status))
		outcome = job.Status
		return nil
	}
	span.SetAttributes(
		attribute.Int("job.images", len(job.Sources)),
		attribute.String("job.strategy", string(job.Params.Strategy)),
	)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Info("processing job",
		zap.String("job_id", job.ID),
		zap.Int("images", len(job.Sources)),
		zap.String("strategy", string(job.Params.Strategy)),
	)
	s.updateStatus(ctx, job.ID, domain.JobStatusProcessing)

	result, err := s.processor.Process(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		if !permanent(err) && !finalAttempt(ctx) {
			s.updateStatus(ctx, job.ID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		failed, storeErr := s.jobStore.Fail(ctx, job.ID, err.Error())
		if storeErr != nil {
			s.logger.Error("job fail update failed", zap.String("job_id", job.ID), zap.Error(storeErr))
			failed = job
			failed.Status = domain.JobStatusFailed
			failed.Error = err.Error()
		}
		s.dispatchWebhook(ctx, failed)
		return fmt.Errorf("run pipeline: %w: %w", err, asynq.SkipRetry)
	}

	completed, err := s.jobStore.Complete(ctx, job.ID, result.Outputs)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("record results: %w", err)
	}
	s.recordUsage(result.Usage)
	s.logger.Info("processed job",
		zap.String("job_id", job.ID),
		zap.Int("outputs", len(result.Outputs)),
		zap.Int64("bytes_saved", result.Usage.BytesSaved),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	s.dispatchWebhook(ctx, completed)

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// permanent reports failures that a retry cannot fix.
func permanent(err error) bool {
	return domain.IsKind(err, domain.KindValidation) ||
		domain.IsKind(err, domain.KindDecode) ||
		domain.IsKind(err, domain.KindTransform)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed", zap.String("job_id", jobID), zap.String("status", status), zap.Error(err))
	}
}

// dispatchWebhook delivers the terminal event. Delivery failures are logged and
// never fail the job, whose state is already recorded.
func (s *Server) dispatchWebhook(ctx context.Context, job domain.Job) {
	if job.WebhookURL == "" || s.webhooks == nil {
		return
	}

	event := webhook.NewJobEvent(job, s.now())
	if err := s.webhooks.Send(ctx, job.WebhookURL, event.Event, event); err != nil {
		s.metrics.webhookFailures.Inc()
		s.logger.Warn("webhook delivery failed", zap.String("job_id", job.ID), zap.String("event", event.Event), zap.Error(err))
	}
}

func (s *Server) recordUsage(usage domain.Usage) {
	s.metrics.imagesProcessed.Add(float64(usage.Images))
	s.metrics.pixelsProcessed.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSaved.Add(float64(usage.BytesSaved))
}
