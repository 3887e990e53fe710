package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/pipeline"
	"github.com/dunamismax/shrinkpic/internal/queue"
	"github.com/dunamismax/shrinkpic/internal/store"
	"github.com/dunamismax/shrinkpic/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type memoryObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

type captureWebhooks struct {
	events []webhook.JobEvent
}

func (c *captureWebhooks) Send(_ context.Context, _ string, _ string, payload any) error {
	c.events = append(c.events, payload.(webhook.JobEvent))
	return nil
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 3), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, objects *memoryObjects, jobs store.JobStore, hooks *captureWebhooks) *Server {
	t.Helper()

	transformer, err := pipeline.NewTransformer(pipeline.CompressOptions{})
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	return &Server{
		logger: zap.NewNop(),
		sem:    make(chan struct{}, 1),
		processor: pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: objects},
			transformer,
			pipeline.ObjectStoreEmitter{Storage: objects},
		),
		webhooks: hooks,
		jobStore: jobs,
		metrics:  newMetrics(),
		tracer:   otel.Tracer("test"),
		now:      time.Now,
	}
}

func seedJob(t *testing.T, jobs store.JobStore, objects *memoryObjects, id string, sources map[string][]byte, names ...string) {
	t.Helper()

	job := domain.Job{
		ID:         id,
		Status:     domain.JobStatusQueued,
		Params:     domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyMaxWidth, MaxWidth: 20, Format: domain.FormatPNG},
		WebhookURL: "https://hooks.example/done",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, name := range names {
		key := "uploads/" + id + "/" + name
		objects.data[key] = sources[name]
		job.Sources = append(job.Sources, domain.JobSource{Name: name, ObjectKey: key, MediaType: "image/png", SizeBytes: int64(len(sources[name]))})
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func processTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	task, err := queue.NewProcessBatchTask(queue.ProcessBatchPayload{JobID: jobID, RequestedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestHandleProcessBatchCompletesJob(t *testing.T) {
	objects := &memoryObjects{data: map[string][]byte{}}
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, objects, jobs, hooks)

	seedJob(t, jobs, objects, "job-1", map[string][]byte{
		"wide.png":  buildTestPNG(t, 40, 20),
		"small.png": buildTestPNG(t, 10, 10),
	}, "wide.png", "small.png")

	if err := s.handleProcessBatch(context.Background(), processTask(t, "job-1")); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, _, err := jobs.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded || len(job.Results) != 2 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Results[0].OutputName != "wide-20x10.png" || job.Results[1].OutputName != "small-compressed.png" {
		t.Fatalf("unexpected outputs %q %q", job.Results[0].OutputName, job.Results[1].OutputName)
	}
	if _, err := objects.ReadObject(context.Background(), job.Results[0].ObjectKey); err != nil {
		t.Fatalf("expected output object: %v", err)
	}

	if len(hooks.events) != 1 || hooks.events[0].Event != webhook.EventJobCompleted {
		t.Fatalf("expected one job.completed event, got %+v", hooks.events)
	}
	if got := testutil.ToFloat64(s.metrics.imagesProcessed); got != 2 {
		t.Fatalf("expected 2 images processed, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.jobsTotal.WithLabelValues(domain.JobStatusSucceeded)); got != 1 {
		t.Fatalf("expected 1 succeeded job, got %v", got)
	}
}

func TestHandleProcessBatchFailsOnUndecodableSource(t *testing.T) {
	objects := &memoryObjects{data: map[string][]byte{}}
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, objects, jobs, hooks)

	seedJob(t, jobs, objects, "job-2", map[string][]byte{
		"ok.png":     buildTestPNG(t, 8, 8),
		"broken.png": []byte("\x89PNG\r\n\x1a\nnot really"),
	}, "ok.png", "broken.png")

	err := s.handleProcessBatch(context.Background(), processTask(t, "job-2"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if !domain.IsKind(err, domain.KindDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusFailed || job.Error == "" || len(job.Results) != 0 {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(hooks.events) != 1 || hooks.events[0].Event != webhook.EventJobFailed {
		t.Fatalf("expected one job.failed event, got %+v", hooks.events)
	}
}

func TestHandleProcessBatchMissingJob(t *testing.T) {
	s := newTestServer(t, &memoryObjects{data: map[string][]byte{}}, store.NewMemoryJobStore(), &captureWebhooks{})

	err := s.handleProcessBatch(context.Background(), processTask(t, "nope"))
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected skip-retry not found error, got %v", err)
	}
}

func TestHandleProcessBatchSkipsFinishedJob(t *testing.T) {
	objects := &memoryObjects{data: map[string][]byte{}}
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, objects, jobs, hooks)

	seedJob(t, jobs, objects, "job-3", map[string][]byte{"a.png": buildTestPNG(t, 4, 4)}, "a.png")
	if _, err := jobs.Complete(context.Background(), "job-3", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := s.handleProcessBatch(context.Background(), processTask(t, "job-3")); err != nil {
		t.Fatalf("expected finished job to be acknowledged, got %v", err)
	}
	if len(hooks.events) != 0 {
		t.Fatalf("expected no webhook, got %d", len(hooks.events))
	}
}

func TestPermanentErrorKinds(t *testing.T) {
	if !permanent(domain.Decode("decode", errors.New("bad"))) {
		t.Fatal("decode errors should not be retried")
	}
	if permanent(domain.Transport("fetch", errors.New("timeout"))) {
		t.Fatal("transport errors should be retried")
	}
}
