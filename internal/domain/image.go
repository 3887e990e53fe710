package domain

import (
	"fmt"
	"math"
	"strings"
)

type ResizeStrategy string

const (
	StrategyOriginal     ResizeStrategy = "original"
	StrategyMaxWidth     ResizeStrategy = "max-width"
	StrategyMaxHeight    ResizeStrategy = "max-height"
	StrategyMaxDimension ResizeStrategy = "max-dimension"
	StrategyFitInside    ResizeStrategy = "fit-inside"
	StrategyFixed        ResizeStrategy = "fixed"
)

func (s ResizeStrategy) Valid() bool {
	switch s {
	case StrategyOriginal, StrategyMaxWidth, StrategyMaxHeight, StrategyMaxDimension, StrategyFitInside, StrategyFixed:
		return true
	default:
		return false
	}
}

// Format is a target encoding. The empty Format keeps the source encoding.
type Format string

const (
	FormatKeep Format = ""
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts the spellings image decoders and users produce
// ("jpeg", "JPG", " png ") and maps them onto a Format.
func ParseFormat(in string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "":
		return FormatKeep, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return FormatKeep, fmt.Errorf("unsupported format: %s", in)
	}
}

func (f Format) Extension() string {
	if f == FormatKeep {
		return ""
	}
	return string(f)
}

func (f Format) MediaType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ProcessingParameters is the transform configuration shared by every image
// of a batch. Zero bounds mean "not supplied".
type ProcessingParameters struct {
	Quality   int            `json:"quality"`
	Strategy  ResizeStrategy `json:"resize_strategy"`
	MaxWidth  int            `json:"max_width,omitempty"`
	MaxHeight int            `json:"max_height,omitempty"`
	Format    Format         `json:"format,omitempty"`
}

func (p ProcessingParameters) Validate() error {
	if p.Quality < 1 || p.Quality > 100 {
		return Validation("params", fmt.Errorf("%w: %d", ErrInvalidQuality, p.Quality))
	}
	if !p.Strategy.Valid() {
		return Validation("params", fmt.Errorf("%w: %q", ErrUnknownStrategy, p.Strategy))
	}
	if _, err := ParseFormat(string(p.Format)); err != nil {
		return Validation("params", fmt.Errorf("%w: %q", ErrUnknownFormat, p.Format))
	}
	if p.MaxWidth < 0 || p.MaxHeight < 0 {
		return Validation("params", fmt.Errorf("%w: bounds must not be negative", ErrInvalidBounds))
	}
	return nil
}

type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceBytes
	SourceRemote
)

// Source is either an in-memory blob or a fetchable URL, never both.
type Source struct {
	kind SourceKind
	data []byte
	url  string
}

func BytesSource(data []byte) Source {
	return Source{kind: SourceBytes, data: data}
}

func RemoteSource(url string) Source {
	return Source{kind: SourceRemote, url: strings.TrimSpace(url)}
}

func (s Source) Kind() SourceKind { return s.kind }
func (s Source) Bytes() []byte    { return s.data }
func (s Source) URL() string      { return s.url }

func (s Source) Present() bool {
	switch s.kind {
	case SourceBytes:
		return s.data != nil
	case SourceRemote:
		return s.url != ""
	default:
		return false
	}
}

type ImageInput struct {
	Source    Source
	Name      string
	MediaType string
	Width     int
	Height    int
	SizeBytes int64
}

// Size reports the larger of the declared size and the blob length. A
// remote source has no blob yet, so only its declared size counts.
func (in ImageInput) Size() int64 {
	size := in.SizeBytes
	if in.Source.Kind() == SourceBytes {
		size = max(size, int64(len(in.Source.Bytes())))
	}
	return size
}

// ImageFile is an ImageInput whose source has been resolved to bytes.
type ImageFile struct {
	Name      string
	MediaType string
	Data      []byte
}

type ProcessedResult struct {
	Name             string `json:"name"`
	OutputName       string `json:"output_name"`
	Data             []byte `json:"-"`
	MediaType        string `json:"media_type"`
	Format           Format `json:"format"`
	OriginalBytes    int64  `json:"original_bytes"`
	CompressedBytes  int64  `json:"compressed_bytes"`
	OriginalSizeKB   int64  `json:"original_size_kb"`
	CompressedSizeKB int64  `json:"compressed_size_kb"`
	SavedPercentage  int    `json:"saved_percentage"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Handle           string `json:"handle,omitempty"`
}

// SavedPercentage computes round((original-compressed)/original*100) on raw
// byte counts. Growth yields a negative value.
func SavedPercentage(original, compressed int64) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round(float64(original-compressed) / float64(original) * 100))
}

func RoundKB(bytes int64) int64 {
	return int64(math.Round(float64(bytes) / 1024))
}
