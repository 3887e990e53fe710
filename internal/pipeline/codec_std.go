package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/shrinkpic/internal/domain"
	_ "golang.org/x/image/webp"
)

type rasterPixels struct {
	img image.Image
}

func (p rasterPixels) Width() int  { return p.img.Bounds().Dx() }
func (p rasterPixels) Height() int { return p.img.Bounds().Dy() }

// stdlibCodec decodes JPEG, PNG, GIF and WebP and encodes JPEG and PNG.
type stdlibCodec struct{}

func (stdlibCodec) Probe(_ context.Context, data []byte) (int, int, domain.Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, domain.FormatKeep, fmt.Errorf("read image header: %w", err)
	}
	return cfg.Width, cfg.Height, decodedFormat(name), nil
}

func (stdlibCodec) Decode(ctx context.Context, data []byte) (Pixels, domain.Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.FormatKeep, err
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.FormatKeep, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, domain.FormatKeep, errors.New("image has no pixels")
	}
	return rasterPixels{img: img}, decodedFormat(name), nil
}

func (stdlibCodec) Scale(ctx context.Context, px Pixels, width, height int) (Pixels, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid scale target %dx%d", width, height)
	}
	src, ok := px.(rasterPixels)
	if !ok {
		return nil, fmt.Errorf("unexpected pixels type %T", px)
	}
	return rasterPixels{img: imaging.Resize(src.img, width, height, imaging.Lanczos)}, nil
}

func (stdlibCodec) Encode(ctx context.Context, px Pixels, format domain.Format, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := px.(rasterPixels)
	if !ok {
		return nil, fmt.Errorf("unexpected pixels type %T", px)
	}
	if quality < 1 || quality > 100 {
		quality = 80
	}

	var buf bytes.Buffer
	switch format {
	case domain.FormatJPEG:
		if err := imaging.Encode(&buf, flattenOnWhite(src.img), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		level := png.DefaultCompression
		if quality <= 50 {
			level = png.BestCompression
		}
		if err := imaging.Encode(&buf, src.img, imaging.PNG, imaging.PNGCompressionLevel(level)); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatWebP:
		return nil, fmt.Errorf("%w: webp export requires govips build tag", domain.ErrUnsupported)
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
	return buf.Bytes(), nil
}

func (stdlibCodec) CanEncode(format domain.Format) bool {
	return format == domain.FormatJPEG || format == domain.FormatPNG
}

func flattenOnWhite(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
}

// decodedFormat maps image package format names onto domain formats.
// Formats without an encoder, such as gif, map to FormatKeep.
func decodedFormat(name string) domain.Format {
	if name == "gif" {
		return domain.FormatKeep
	}
	format, err := domain.ParseFormat(name)
	if err != nil {
		return domain.FormatKeep
	}
	return format
}
