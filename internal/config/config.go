package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	Log       LogConfig
	API       APIConfig
	RateLimit RateLimitConfig
	Compress  CompressConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	Client    ClientConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type APIConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Concurrency     int
	TrustProxy      bool
	CORSOrigins     []string
	AsyncJobs       bool
	PresignExpiry   time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	// Preset names a built-in policy; Limit and Window override it when set.
	Preset  string
	Limit   int
	Window  time.Duration
	Backend string
}

type CompressConfig struct {
	MaxIteration       int
	AlreadySmallerThan int64
	MaxBytes           int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	TaskTimeout   time.Duration
	MaxRetry      int
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// ClientConfig drives the shrink CLI.
type ClientConfig struct {
	Endpoint string
	Mode     string
	Timeout  time.Duration
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
		},
		API: APIConfig{
			Addr:            env("SHRINKPIC_API_ADDR", ":8080"),
			ReadTimeout:     envDuration("API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    envDuration("API_WRITE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: envDuration("API_SHUTDOWN_TIMEOUT", 10*time.Second),
			Concurrency:     envInt("API_CONCURRENCY", max(2, runtime.NumCPU())),
			TrustProxy:      envBool("TRUST_PROXY", false),
			CORSOrigins: envList("CORS_ORIGINS", []string{
				"https://shrinkpic.ir",
				"https://www.shrinkpic.ir",
				"http://localhost:3000",
				"http://localhost:3001",
			}),
			AsyncJobs:     envBool("ASYNC_JOBS_ENABLED", false),
			PresignExpiry: envDuration("PRESIGN_EXPIRY", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled: envBool("RATE_LIMIT_ENABLED", true),
			Preset:  env("RATE_LIMIT_PRESET", "default"),
			Limit:   envInt("RATE_LIMIT_MAX", 0),
			Window:  envDuration("RATE_LIMIT_WINDOW", 0),
			Backend: env("RATE_LIMIT_BACKEND", "memory"),
		},
		Compress: CompressConfig{
			MaxIteration:       envInt("COMPRESS_MAX_ITERATION", 10),
			AlreadySmallerThan: envInt64("COMPRESS_ALREADY_SMALLER_THAN", 50*1024),
			MaxBytes:           envInt64("COMPRESS_MAX_BYTES", 0),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 5*time.Minute),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 3),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", ""),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "shrinkpic-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			Secret:      env("WEBHOOK_SECRET", ""),
			Timeout:     envDuration("WEBHOOK_TIMEOUT", 5*time.Second),
			MaxAttempts: envInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Client: ClientConfig{
			Endpoint: env("SHRINKPIC_ENDPOINT", ""),
			Mode:     env("SHRINKPIC_MODE", "auto"),
			Timeout:  envDuration("SHRINKPIC_TIMEOUT", 2*time.Minute),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envList splits a comma separated value, dropping empty entries.
func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
