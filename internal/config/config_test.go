package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SHRINKPIC_API_ADDR", "")
	t.Setenv("RATE_LIMIT_PRESET", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg := FromEnv()
	if cfg.API.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.API.Addr)
	}
	if cfg.RateLimit.Preset != "default" || !cfg.RateLimit.Enabled {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if len(cfg.API.CORSOrigins) != 4 {
		t.Fatalf("expected 4 default origins, got %v", cfg.API.CORSOrigins)
	}
	if cfg.Compress.MaxIteration != 10 || cfg.Compress.AlreadySmallerThan != 50*1024 {
		t.Fatalf("unexpected compress config %+v", cfg.Compress)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("RATE_LIMIT_WINDOW", "90s")
	t.Setenv("RATE_LIMIT_MAX", "not-a-number")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")

	cfg := FromEnv()
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.API.CORSOrigins)
	}
	if cfg.RateLimit.Window != 90*time.Second {
		t.Fatalf("unexpected window %v", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Limit != 0 {
		t.Fatalf("expected invalid int to fall back, got %d", cfg.RateLimit.Limit)
	}
	if cfg.Telemetry.SampleRatio != 0.5 {
		t.Fatalf("unexpected sample ratio %v", cfg.Telemetry.SampleRatio)
	}
	if !cfg.API.TrustProxy {
		t.Fatal("expected trust proxy")
	}
}
