package preview

import (
	"strings"
	"testing"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()

	a := reg.Allocate([]byte("a"), "image/png")
	b := reg.Allocate([]byte("b"), "image/jpeg")
	if a == b || !strings.HasPrefix(a, "blob:") {
		t.Fatalf("unexpected handles %q %q", a, b)
	}

	data, mediaType, ok := reg.Open(b)
	if !ok || string(data) != "b" || mediaType != "image/jpeg" {
		t.Fatalf("unexpected entry %q %q %v", data, mediaType, ok)
	}

	reg.Release(a, a, "blob:unknown")
	if _, _, ok := reg.Open(a); ok {
		t.Fatal("expected released handle to be gone")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 live handle, got %d", reg.Len())
	}
}
