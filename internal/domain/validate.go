package domain

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MaxBatchSize = 20
	MaxFileBytes = 10 * 1024 * 1024
)

// ValidateBatch runs the pre-flight checks of a batch. It stops at the first
// offending image and performs no work on the images themselves.
func ValidateBatch(images []ImageInput) error {
	if len(images) == 0 {
		return Validation("validate batch", ErrEmptyBatch)
	}
	if len(images) > MaxBatchSize {
		return Validation("validate batch", fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(images)))
	}

	for i, img := range images {
		if err := ValidateImage(img); err != nil {
			return AtImage(err, i, img.Name)
		}
	}
	return nil
}

func ValidateImage(img ImageInput) error {
	if !img.Source.Present() {
		return Validation("validate image", ErrMissingSource)
	}
	if strings.TrimSpace(img.Name) == "" {
		return Validation("validate image", ErrMissingName)
	}
	if img.Size() > MaxFileBytes {
		return Validation("validate image", fmt.Errorf("%w: %s", ErrFileTooLarge, img.Name))
	}
	if img.Source.Kind() == SourceBytes {
		if !IsImageMediaType(DetectMediaType(img.MediaType, img.Source.Bytes())) {
			return Validation("validate image", fmt.Errorf("%w: %s", ErrNotImage, img.Name))
		}
	}
	return nil
}

// DetectMediaType prefers the declared type and sniffs the content when none
// was declared.
func DetectMediaType(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" {
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = strings.TrimSpace(declared[:i])
		}
		return declared
	}
	if len(data) == 0 {
		return ""
	}
	return mimetype.Detect(data).String()
}

func IsImageMediaType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}
