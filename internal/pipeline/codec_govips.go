//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/shrinkpic/internal/domain"
)

type vipsPixels struct {
	ref *vips.ImageRef
}

func (p vipsPixels) Width() int  { return p.ref.Width() }
func (p vipsPixels) Height() int { return p.ref.Height() }
func (p vipsPixels) Close()      { p.ref.Close() }

type govipsCodec struct{}

func (govipsCodec) Probe(_ context.Context, data []byte) (int, int, domain.Format, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return 0, 0, domain.FormatKeep, fmt.Errorf("read image header: %w", err)
	}
	defer ref.Close()
	return ref.Width(), ref.Height(), vipsFormat(vips.DetermineImageType(data)), nil
}

func (govipsCodec) Decode(ctx context.Context, data []byte) (Pixels, domain.Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.FormatKeep, err
	}
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, domain.FormatKeep, fmt.Errorf("decode image: %w", err)
	}
	return vipsPixels{ref: ref}, vipsFormat(vips.DetermineImageType(data)), nil
}

func (govipsCodec) Scale(ctx context.Context, px Pixels, width, height int) (Pixels, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := px.(vipsPixels)
	if !ok {
		return nil, fmt.Errorf("unexpected pixels type %T", px)
	}
	if width <= 0 || height <= 0 || src.Width() <= 0 || src.Height() <= 0 {
		return nil, fmt.Errorf("invalid scale target %dx%d", width, height)
	}

	ref, err := src.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	hscale := float64(width) / float64(src.Width())
	vscale := float64(height) / float64(src.Height())
	if err := ref.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		ref.Close()
		return nil, fmt.Errorf("resize image: %w", err)
	}
	return vipsPixels{ref: ref}, nil
}

func (govipsCodec) Encode(ctx context.Context, px Pixels, format domain.Format, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := px.(vipsPixels)
	if !ok {
		return nil, fmt.Errorf("unexpected pixels type %T", px)
	}
	if quality < 1 || quality > 100 {
		quality = 80
	}

	switch format {
	case domain.FormatJPEG:
		ref := src.ref
		if ref.HasAlpha() {
			flat, err := ref.Copy()
			if err != nil {
				return nil, fmt.Errorf("copy image: %w", err)
			}
			defer flat.Close()
			if err := flat.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, fmt.Errorf("flatten alpha: %w", err)
			}
			ref = flat
		}
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err := ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		params := vips.NewPngExportParams()
		params.Quality = quality
		data, _, err := src.ref.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := src.ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}

func (govipsCodec) CanEncode(format domain.Format) bool {
	switch format {
	case domain.FormatJPEG, domain.FormatPNG, domain.FormatWebP:
		return true
	default:
		return false
	}
}

func vipsFormat(t vips.ImageType) domain.Format {
	switch t {
	case vips.ImageTypeJPEG:
		return domain.FormatJPEG
	case vips.ImageTypePNG:
		return domain.FormatPNG
	case vips.ImageTypeWEBP:
		return domain.FormatWebP
	default:
		return domain.FormatKeep
	}
}
