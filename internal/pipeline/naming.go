package pipeline

import (
	"fmt"
	"strings"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

// SplitName splits "photo.final.jpg" into ("photo.final", "jpg"). Names without
// an extension, or with a leading or trailing dot, are rejected.
func SplitName(name string) (stem, ext string, err error) {
	if strings.TrimSpace(name) == "" {
		return "", "", domain.ErrEmptyFileName
	}
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return "", "", fmt.Errorf("%w: %q", domain.ErrInvalidFileName, name)
	}
	return name[:dot], name[dot+1:], nil
}

// OutputName builds "<stem>-<W>x<H>.<ext>" for resized outputs and
// "<stem>-compressed.<ext>" otherwise.
func OutputName(stem, ext string, width, height int, resized bool) string {
	tag := "compressed"
	if resized {
		tag = fmt.Sprintf("%dx%d", width, height)
	}
	return fmt.Sprintf("%s-%s.%s", stem, tag, ext)
}
