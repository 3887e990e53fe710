package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/pipeline"
)

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newLocalOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	tr, err := pipeline.NewTransformer(pipeline.CompressOptions{})
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	o, err := NewOrchestrator(Options{Mode: ModeLocal, Local: NewLocalExecutor(tr)})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func collect(ch <-chan Progress) (func() []Progress, *sync.WaitGroup) {
	var (
		wg     sync.WaitGroup
		events []Progress
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range ch {
			events = append(events, p)
		}
	}()
	return func() []Progress { return events }, &wg
}

func TestProcessBatchLocalProgressAndOrder(t *testing.T) {
	o := newLocalOrchestrator(t)
	images := []domain.ImageInput{
		{Source: domain.BytesSource(buildTestPNG(t, 40, 20)), Name: "first.png"},
		{Source: domain.BytesSource(buildTestPNG(t, 20, 40)), Name: "second.png"},
		{Source: domain.BytesSource(buildTestPNG(t, 30, 30)), Name: "third.png"},
	}
	params := domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal}

	ch := make(chan Progress)
	events, wg := collect(ch)
	run, err := o.ProcessBatch(context.Background(), images, params, ch)
	close(ch)
	wg.Wait()
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}

	got := events()
	if len(got) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(got))
	}
	for i, p := range got {
		if p.Completed != i+1 || p.Total != 3 {
			t.Fatalf("event %d: unexpected progress %+v", i, p)
		}
	}

	if len(run.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(run.Results))
	}
	for i, name := range []string{"first.png", "second.png", "third.png"} {
		if run.Results[i].Name != name {
			t.Fatalf("result %d: expected %s, got %s", i, name, run.Results[i].Name)
		}
		if run.Results[i].Handle == "" {
			t.Fatalf("result %d: expected display handle", i)
		}
	}
	if o.Registry().Len() != 3 {
		t.Fatalf("expected 3 live handles, got %d", o.Registry().Len())
	}

	var session Session
	session.Replace(run)
	session.Clear()
	if o.Registry().Len() != 0 {
		t.Fatalf("expected handles released, got %d", o.Registry().Len())
	}
}

func TestProcessBatchValidationDoesNoWork(t *testing.T) {
	o := newLocalOrchestrator(t)
	ch := make(chan Progress, 10)

	_, err := o.ProcessBatch(context.Background(), nil, domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal}, ch)
	if !errors.Is(err, domain.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}

	images := make([]domain.ImageInput, domain.MaxBatchSize+1)
	for i := range images {
		images[i] = domain.ImageInput{Source: domain.BytesSource(buildTestPNG(t, 2, 2)), Name: "x.png"}
	}
	_, err = o.ProcessBatch(context.Background(), images, domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal}, ch)
	if !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if len(ch) != 0 {
		t.Fatalf("expected no progress events, got %d", len(ch))
	}
}

func TestProcessBatchAbortsOnFirstFailure(t *testing.T) {
	o := newLocalOrchestrator(t)
	images := []domain.ImageInput{
		{Source: domain.BytesSource(buildTestPNG(t, 10, 10)), Name: "ok.png"},
		{Source: domain.BytesSource(append([]byte("\x89PNG\r\n\x1a\n"), []byte("broken")...)), Name: "broken.png", MediaType: "image/png"},
		{Source: domain.BytesSource(buildTestPNG(t, 10, 10)), Name: "never.png"},
	}

	ch := make(chan Progress, 10)
	run, err := o.ProcessBatch(context.Background(), images, domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal}, ch)
	if run != nil {
		t.Fatal("expected no partial run")
	}
	if !domain.IsKind(err, domain.KindDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	var typed *domain.Error
	if !errors.As(err, &typed) || typed.Index != 1 {
		t.Fatalf("expected failure at index 1, got %v", err)
	}
	if len(ch) != 1 {
		t.Fatalf("expected 1 progress event before failure, got %d", len(ch))
	}
}

func TestProcessBatchHonoursCancellation(t *testing.T) {
	o := newLocalOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.ProcessBatch(ctx, []domain.ImageInput{
		{Source: domain.BytesSource(buildTestPNG(t, 10, 10)), Name: "a.png"},
	}, domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyOriginal}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResolverFetchesRemoteSources(t *testing.T) {
	pngData := buildTestPNG(t, 12, 12)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.png":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngData)
		case "/notes.txt":
			_, _ = w.Write([]byte("plain text, not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	resolver := NewSourceResolver(srv.Client())
	files, err := resolver.Resolve(context.Background(), []domain.ImageInput{
		{Source: domain.RemoteSource(srv.URL + "/a.png"), Name: "a.png"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if files[0].MediaType != "image/png" || !bytes.Equal(files[0].Data, pngData) {
		t.Fatalf("unexpected file %s %d bytes", files[0].MediaType, len(files[0].Data))
	}

	_, err = resolver.Resolve(context.Background(), []domain.ImageInput{
		{Source: domain.RemoteSource(srv.URL + "/notes.txt"), Name: "notes.txt"},
	})
	if !errors.Is(err, domain.ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}

	_, err = resolver.Resolve(context.Background(), []domain.ImageInput{
		{Source: domain.RemoteSource(srv.URL + "/missing.png"), Name: "missing.png"},
	})
	if !domain.IsKind(err, domain.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeAuto {
		t.Fatalf("expected auto, got %q %v", m, err)
	}
	if _, err := ParseMode("cloud"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
