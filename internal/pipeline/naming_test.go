package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

func TestSplitName(t *testing.T) {
	stem, ext, err := SplitName("holiday.final.JPG")
	if err != nil {
		t.Fatalf("split name: %v", err)
	}
	if stem != "holiday.final" || ext != "JPG" {
		t.Fatalf("unexpected split %q %q", stem, ext)
	}

	for _, name := range []string{"photo", ".hidden", "trailing."} {
		if _, _, err := SplitName(name); !errors.Is(err, domain.ErrInvalidFileName) {
			t.Fatalf("%q: expected ErrInvalidFileName, got %v", name, err)
		}
	}
	if _, _, err := SplitName(""); !errors.Is(err, domain.ErrEmptyFileName) {
		t.Fatalf("expected ErrEmptyFileName, got %v", err)
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName("cat", "png", 800, 600, true); got != "cat-800x600.png" {
		t.Fatalf("unexpected resized name %q", got)
	}
	if got := OutputName("cat", "png", 800, 600, false); got != "cat-compressed.png" {
		t.Fatalf("unexpected compressed name %q", got)
	}
}
