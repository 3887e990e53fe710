package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

// reencodeQuality is the fidelity of the explicit resize and format
// conversion passes.
const reencodeQuality = 95

// Pixels is a decoded raster owned by a Codec.
type Pixels interface {
	Width() int
	Height() int
}

// Codec is the native image capability the transformer is written against.
type Codec interface {
	Probe(ctx context.Context, data []byte) (width, height int, format domain.Format, err error)
	Decode(ctx context.Context, data []byte) (Pixels, domain.Format, error)
	Scale(ctx context.Context, px Pixels, width, height int) (Pixels, error)
	Encode(ctx context.Context, px Pixels, format domain.Format, quality int) ([]byte, error)
	CanEncode(format domain.Format) bool
}

type Request struct {
	Data         []byte
	Name         string
	Quality      int
	TargetWidth  int
	TargetHeight int
	Format       domain.Format
}

type Transformer struct {
	codec Codec
	opts  CompressOptions
}

func NewTransformer(opts CompressOptions) (*Transformer, error) {
	codec, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return NewTransformerWithCodec(codec, opts), nil
}

func NewTransformerWithCodec(codec Codec, opts CompressOptions) *Transformer {
	return &Transformer{codec: codec, opts: opts.withDefaults()}
}

func (t *Transformer) CanEncode(format domain.Format) bool {
	return format == domain.FormatKeep || t.codec.CanEncode(format)
}

// Process plans the target dimensions of one image from its decoded header
// and transforms it.
func (t *Transformer) Process(ctx context.Context, data []byte, name string, params domain.ProcessingParameters) (domain.ProcessedResult, error) {
	width, height, _, err := t.codec.Probe(ctx, data)
	if err != nil {
		return domain.ProcessedResult{}, domain.Decode("probe source", err)
	}

	targetW, targetH := Plan(width, height, params.Strategy, params.MaxWidth, params.MaxHeight)
	return t.Transform(ctx, Request{
		Data:         data,
		Name:         name,
		Quality:      params.Quality,
		TargetWidth:  targetW,
		TargetHeight: targetH,
		Format:       params.Format,
	})
}

func (t *Transformer) Transform(ctx context.Context, req Request) (domain.ProcessedResult, error) {
	stem, ext, err := SplitName(req.Name)
	if err != nil {
		return domain.ProcessedResult{}, domain.Transform("split name", err)
	}
	if req.Quality < 1 || req.Quality > 100 {
		return domain.ProcessedResult{}, domain.Transform("compress", fmt.Errorf("%w: %d", domain.ErrInvalidQuality, req.Quality))
	}
	if req.Format != domain.FormatKeep && !t.codec.CanEncode(req.Format) {
		return domain.ProcessedResult{}, domain.Transform("convert format", fmt.Errorf("%w: %s encoding", domain.ErrUnsupported, req.Format))
	}
	if err := ctx.Err(); err != nil {
		return domain.ProcessedResult{}, err
	}

	src, srcFormat, err := t.codec.Decode(ctx, req.Data)
	if err != nil {
		return domain.ProcessedResult{}, domain.Decode("decode source", err)
	}
	defer release(src)

	origW, origH := src.Width(), src.Height()
	targetW, targetH := req.TargetWidth, req.TargetHeight
	if targetW <= 0 || targetH <= 0 {
		targetW, targetH = origW, origH
	}

	format := srcFormat
	if !t.codec.CanEncode(format) {
		format = domain.FormatJPEG
	}

	width, height := FitLongestSide(origW, origH, max(targetW, targetH))
	compressed := src
	if width != origW || height != origH {
		compressed, err = t.codec.Scale(ctx, src, width, height)
		if err != nil {
			return domain.ProcessedResult{}, domain.Transform("compress", err)
		}
		defer release(compressed)
	}

	data, err := t.compress(ctx, compressed, format, req.Quality)
	if err != nil {
		return domain.ProcessedResult{}, domain.Transform("compress", err)
	}

	if targetW != width || targetH != height {
		data, err = t.reencode(ctx, data, format, targetW, targetH)
		if err != nil {
			return domain.ProcessedResult{}, domain.Transform("resize", err)
		}
		width, height = targetW, targetH
	}

	if req.Format != domain.FormatKeep && req.Format != format {
		data, err = t.reencode(ctx, data, req.Format, 0, 0)
		if err != nil {
			return domain.ProcessedResult{}, domain.Transform("convert format", err)
		}
		format = req.Format
	}

	resized := width != origW || height != origH
	if !resized && format == srcFormat && len(data) >= len(req.Data) {
		data = req.Data
	}
	ext = extensionFor(ext, format)

	originalBytes := int64(len(req.Data))
	compressedBytes := int64(len(data))
	return domain.ProcessedResult{
		Name:             req.Name,
		OutputName:       OutputName(stem, ext, width, height, resized),
		Data:             data,
		MediaType:        format.MediaType(),
		Format:           format,
		OriginalBytes:    originalBytes,
		CompressedBytes:  compressedBytes,
		OriginalSizeKB:   domain.RoundKB(originalBytes),
		CompressedSizeKB: domain.RoundKB(compressedBytes),
		SavedPercentage:  domain.SavedPercentage(originalBytes, compressedBytes),
		Width:            width,
		Height:           height,
	}, nil
}

// extensionFor keeps the source extension when it already names format, so
// "photo.jpeg" stays ".jpeg", and otherwise uses the format's extension.
func extensionFor(ext string, format domain.Format) string {
	if named, err := domain.ParseFormat(ext); err == nil && named == format {
		return ext
	}
	return format.Extension()
}

// reencode decodes data, optionally scales it to (width, height) and encodes
// it at reencodeQuality.
func (t *Transformer) reencode(ctx context.Context, data []byte, format domain.Format, width, height int) ([]byte, error) {
	px, _, err := t.codec.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode intermediate: %w", err)
	}
	defer release(px)

	if width > 0 && height > 0 && (px.Width() != width || px.Height() != height) {
		scaled, err := t.codec.Scale(ctx, px, width, height)
		if err != nil {
			return nil, err
		}
		defer release(scaled)
		px = scaled
	}
	return t.codec.Encode(ctx, px, format, reencodeQuality)
}

func release(px Pixels) {
	if closer, ok := px.(interface{ Close() }); ok {
		closer.Close()
	}
}
