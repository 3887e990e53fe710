package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := NewTransformer(CompressOptions{})
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	return tr
}

func TestProcessResizesAndNamesOutput(t *testing.T) {
	tr := newTestTransformer(t)
	src := buildTestPNG(t, 240, 120)

	result, err := tr.Process(context.Background(), src, "input.png", domain.ProcessingParameters{
		Quality:  80,
		Strategy: domain.StrategyMaxWidth,
		MaxWidth: 80,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.Width != 80 || result.Height != 40 {
		t.Fatalf("expected 80x40, got %dx%d", result.Width, result.Height)
	}
	if result.OutputName != "input-80x40.png" {
		t.Fatalf("unexpected output name %q", result.OutputName)
	}
	if result.Format != domain.FormatPNG || result.MediaType != "image/png" {
		t.Fatalf("expected png output, got %s %s", result.Format, result.MediaType)
	}
	verifyImageSize(t, result.Data, 80, 40)
}

func TestTransformConvertsFormat(t *testing.T) {
	tr := newTestTransformer(t)
	src := buildTestPNG(t, 64, 64)

	result, err := tr.Transform(context.Background(), Request{
		Data:    src,
		Name:    "icon.png",
		Quality: 70,
		Format:  domain.FormatJPEG,
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if result.Format != domain.FormatJPEG || result.OutputName != "icon-compressed.jpg" {
		t.Fatalf("unexpected result %s %q", result.Format, result.OutputName)
	}
	if _, err := jpeg.Decode(bytes.NewReader(result.Data)); err != nil {
		t.Fatalf("expected jpeg output: %v", err)
	}
	if result.OriginalBytes != int64(len(src)) || result.CompressedBytes != int64(len(result.Data)) {
		t.Fatalf("unexpected byte counts %d %d", result.OriginalBytes, result.CompressedBytes)
	}
}

func TestTransformNamesOutputByDecodedFormat(t *testing.T) {
	tr := newTestTransformer(t)
	decoded, err := png.Decode(bytes.NewReader(buildTestPNG(t, 32, 32)))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	cases := []struct {
		name string
		want string
	}{
		{"photo.png", "photo-compressed.jpg"},
		{"photo.jpeg", "photo-compressed.jpeg"},
		{"photo.JPG", "photo-compressed.JPG"},
	}
	for _, tc := range cases {
		result, err := tr.Transform(context.Background(), Request{Data: buf.Bytes(), Name: tc.name, Quality: 80})
		if err != nil {
			t.Fatalf("%s: transform: %v", tc.name, err)
		}
		if result.OutputName != tc.want || result.MediaType != "image/jpeg" {
			t.Fatalf("%s: expected %s as image/jpeg, got %q %s", tc.name, tc.want, result.OutputName, result.MediaType)
		}
	}
}

func TestTransformFlattensTransparencyForJPEG(t *testing.T) {
	tr := newTestTransformer(t)

	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	result, err := tr.Transform(context.Background(), Request{
		Data:    buf.Bytes(),
		Name:    "clear.png",
		Quality: 90,
		Format:  domain.FormatJPEG,
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	out, err := jpeg.Decode(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	r, g, b, _ := out.At(8, 8).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("expected white background, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestTransformIsIdempotent(t *testing.T) {
	tr := newTestTransformer(t)
	params := domain.ProcessingParameters{Quality: 80, Strategy: domain.StrategyMaxWidth, MaxWidth: 100}

	first, err := tr.Process(context.Background(), buildTestPNG(t, 300, 150), "scene.png", params)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := tr.Process(context.Background(), first.Data, "scene.png", params)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if second.SavedPercentage < 0 || second.SavedPercentage > 5 {
		t.Fatalf("expected saved percentage near 0, got %d", second.SavedPercentage)
	}
	if abs(second.Width-first.Width) > 1 || abs(second.Height-first.Height) > 1 {
		t.Fatalf("dimensions drifted: %dx%d -> %dx%d", first.Width, first.Height, second.Width, second.Height)
	}
}

func TestTransformRejectsUnsupportedFormat(t *testing.T) {
	tr := newTestTransformer(t)
	if tr.CanEncode(domain.FormatWebP) {
		t.Skip("codec encodes webp")
	}

	_, err := tr.Transform(context.Background(), Request{
		Data:    buildTestPNG(t, 8, 8),
		Name:    "a.png",
		Quality: 80,
		Format:  domain.FormatWebP,
	})
	if !domain.IsKind(err, domain.KindTransform) {
		t.Fatalf("expected transform error, got %v", err)
	}
}

func TestTransformErrors(t *testing.T) {
	tr := newTestTransformer(t)

	_, err := tr.Transform(context.Background(), Request{Data: []byte("not an image"), Name: "a.png", Quality: 80})
	if !domain.IsKind(err, domain.KindDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}

	_, err = tr.Transform(context.Background(), Request{Data: buildTestPNG(t, 8, 8), Name: "photo", Quality: 80})
	if !domain.IsKind(err, domain.KindTransform) {
		t.Fatalf("expected transform error for bad name, got %v", err)
	}

	_, err = tr.Transform(context.Background(), Request{Data: buildTestPNG(t, 8, 8), Name: "a.png", Quality: 0})
	if !domain.IsKind(err, domain.KindTransform) {
		t.Fatalf("expected transform error for bad quality, got %v", err)
	}
}

type sizedPixels struct{ w, h int }

func (p sizedPixels) Width() int  { return p.w }
func (p sizedPixels) Height() int { return p.h }

// qualityCodec encodes to quality*1000 bytes so the search is observable.
type qualityCodec struct {
	encodes []int
}

func (c *qualityCodec) Probe(context.Context, []byte) (int, int, domain.Format, error) {
	return 10, 10, domain.FormatJPEG, nil
}

func (c *qualityCodec) Decode(context.Context, []byte) (Pixels, domain.Format, error) {
	return sizedPixels{10, 10}, domain.FormatJPEG, nil
}

func (c *qualityCodec) Scale(_ context.Context, _ Pixels, w, h int) (Pixels, error) {
	return sizedPixels{w, h}, nil
}

func (c *qualityCodec) Encode(_ context.Context, _ Pixels, _ domain.Format, quality int) ([]byte, error) {
	c.encodes = append(c.encodes, quality)
	return make([]byte, quality*1000), nil
}

func (c *qualityCodec) CanEncode(format domain.Format) bool {
	return format == domain.FormatJPEG
}

func TestCompressSearchStopsAtByteTarget(t *testing.T) {
	codec := &qualityCodec{}
	tr := NewTransformerWithCodec(codec, CompressOptions{MaxBytes: 50_000, AlreadySmallerThan: 1000})

	out, err := tr.compress(context.Background(), sizedPixels{10, 10}, domain.FormatJPEG, 80)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(out) != 45_000 {
		t.Fatalf("expected 45000 bytes, got %d", len(out))
	}
	want := []int{80, 72, 64, 57, 51, 45}
	if len(codec.encodes) != len(want) {
		t.Fatalf("expected qualities %v, got %v", want, codec.encodes)
	}
	for i := range want {
		if codec.encodes[i] != want[i] {
			t.Fatalf("expected qualities %v, got %v", want, codec.encodes)
		}
	}
}

func TestCompressSearchHonoursIterationCap(t *testing.T) {
	codec := &qualityCodec{}
	tr := NewTransformerWithCodec(codec, CompressOptions{MaxIteration: 3, MaxBytes: 1000, AlreadySmallerThan: 1000})

	out, err := tr.compress(context.Background(), sizedPixels{10, 10}, domain.FormatJPEG, 80)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(codec.encodes) != 3 {
		t.Fatalf("expected 3 encodes, got %v", codec.encodes)
	}
	if len(out) != 64_000 {
		t.Fatalf("expected smallest output of 64000 bytes, got %d", len(out))
	}
}

func TestCompressSingleEncodeWithoutByteTarget(t *testing.T) {
	codec := &qualityCodec{}
	tr := NewTransformerWithCodec(codec, CompressOptions{})

	if _, err := tr.compress(context.Background(), sizedPixels{10, 10}, domain.FormatJPEG, 80); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(codec.encodes) != 1 {
		t.Fatalf("expected a single encode, got %v", codec.encodes)
	}
}

func verifyImageSize(t *testing.T, data []byte, wantW, wantH int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, cfg.Width, cfg.Height)
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
