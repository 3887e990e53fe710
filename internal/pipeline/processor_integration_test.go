package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/storage"
)

// fileFetcher reads sources whose object keys are filesystem paths.
type fileFetcher struct{}

func (fileFetcher) Fetch(ctx context.Context, _ string, src domain.JobSource) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", src.ObjectKey, err)
	}
	return data, nil
}

// fileEmitter writes outputs under <dir>/<job>/<index>-<output name>.
type fileEmitter struct {
	dir string
}

func (e fileEmitter) Emit(_ context.Context, jobID string, index int, result domain.ProcessedResult) (domain.JobResult, error) {
	jobDir := filepath.Join(e.dir, storage.SanitizeToken(jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return domain.JobResult{}, err
	}
	fullPath := filepath.Join(jobDir, fmt.Sprintf("%d-%s", index, storage.SanitizeToken(result.OutputName)))
	if err := os.WriteFile(fullPath, result.Data, 0o644); err != nil {
		return domain.JobResult{}, err
	}
	return jobResult(result, fullPath), nil
}

func newFileProcessor(t *testing.T, outputDir string) *Processor {
	t.Helper()
	return NewProcessor(fileFetcher{}, newTestTransformer(t), fileEmitter{dir: outputDir})
}

func TestProcessorFileInTransformFileOut(t *testing.T) {
	tmp := t.TempDir()
	outputDir := filepath.Join(tmp, "out")

	sources := make([]domain.JobSource, 0, 2)
	for _, name := range []string{"wide.png", "tall.png"} {
		w, h := 240, 120
		if name == "tall.png" {
			w, h = 120, 240
		}
		path := filepath.Join(tmp, name)
		if err := os.WriteFile(path, buildTestPNG(t, w, h), 0o644); err != nil {
			t.Fatalf("write input image: %v", err)
		}
		sources = append(sources, domain.JobSource{Name: name, ObjectKey: path})
	}

	processor := newFileProcessor(t, outputDir)

	result, err := processor.Process(context.Background(), domain.Job{
		ID:      "job-local-1",
		Params:  domain.ProcessingParameters{Quality: 75, Strategy: domain.StrategyMaxDimension, MaxWidth: 60, Format: domain.FormatJPEG},
		Sources: sources,
	})
	if err != nil {
		t.Fatalf("process job: %v", err)
	}

	if len(result.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(result.Outputs))
	}
	if result.Outputs[0].OutputName != "wide-60x30.jpg" || result.Outputs[1].OutputName != "tall-30x60.jpg" {
		t.Fatalf("unexpected output names %q %q", result.Outputs[0].OutputName, result.Outputs[1].OutputName)
	}
	if result.Usage.Images != 2 || result.Usage.PixelsProcessed != 2*60*30 {
		t.Fatalf("unexpected usage %+v", result.Usage)
	}

	data, err := os.ReadFile(result.Outputs[0].ObjectKey)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	verifyImageSize(t, data, 60, 30)
}

func TestProcessorMissingSourceAbortsJob(t *testing.T) {
	processor := newFileProcessor(t, t.TempDir())

	_, err := processor.Process(context.Background(), domain.Job{
		ID:      "job-missing",
		Params:  domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal},
		Sources: []domain.JobSource{{Name: "gone.png", ObjectKey: filepath.Join(t.TempDir(), "gone.png")}},
	})
	if !domain.IsKind(err, domain.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var typed *domain.Error
	if !errors.As(err, &typed) || typed.Index != 0 || typed.Name != "gone.png" {
		t.Fatalf("expected failing image to be identified, got %v", err)
	}
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func TestObjectStoreStages(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["uploads/job-9/0-a.png"] = buildTestPNG(t, 50, 50)

	processor := NewProcessor(
		ObjectStoreFetcher{Storage: objects},
		newTestTransformer(t),
		ObjectStoreEmitter{Storage: objects},
	)

	result, err := processor.Process(context.Background(), domain.Job{
		ID:      "job-9",
		Params:  domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal},
		Sources: []domain.JobSource{{Name: "a.png", ObjectKey: "uploads/job-9/0-a.png"}},
	})
	if err != nil {
		t.Fatalf("process job: %v", err)
	}

	key := result.Outputs[0].ObjectKey
	if key != "outputs/job-9/0-a-compressed.png" {
		t.Fatalf("unexpected output key %q", key)
	}
	if objects.types[key] != "image/png" {
		t.Fatalf("unexpected content type %q", objects.types[key])
	}
}
