package storage

import "testing"

func TestObjectKeys(t *testing.T) {
	if got := SourceKey("job-1", 0, "my photo.png"); got != "uploads/job-1/0-my_photo.png" {
		t.Fatalf("unexpected source key %q", got)
	}
	if got := OutputKey("job/../2", 3, "a-800x600.jpg"); got != "outputs/job_.._2/3-a-800x600.jpg" {
		t.Fatalf("unexpected output key %q", got)
	}
	if got := SanitizeToken("  "); got != "unknown" {
		t.Fatalf("expected unknown for blank token, got %q", got)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
