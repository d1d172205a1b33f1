package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort  string
	LogLevel string

	StoragePath          string
	StorageCompress      bool
	StorageMetaCacheSize int
	WorkDir              string

	MaxUploadBytes  int64
	MaxOutputBytes  int64
	SessionTTL      time.Duration
	SessionMaxFiles int
	SessionMaxBytes int64

	OfficeEndpoint    string
	OfficeMaxInFlight int
	OfficeTimeout     time.Duration
	MarkupTimeout     time.Duration
	ImageTimeout      time.Duration
	TabularTimeout    time.Duration
	PandocPath        string
	MarkupMaxPages    int
	ImageMaxPages     int
	ImageMaxPixels    int64
	TabularMaxCells   int

	BackendRetryBackoff time.Duration

	// PostgresDSN selects the durable ledger and job store; empty keeps
	// both in memory.
	PostgresDSN string

	// NATSURL selects the broker; empty runs jobs on an in-process pool.
	NATSURL        string
	NATSSubject    string
	NATSQueueGroup string
	JobWorkers     int
	JobQueueSize   int

	SweepInterval  time.Duration
	SweepBatchSize int
	JobRetention   time.Duration

	AuthJWTSecret   string
	AuthJWTAudience string
	AuthRequired    bool

	RateLimitRPS     float64
	RateLimitBurst   int
	UploadRateRPS    float64
	UploadRateBurst  int
	APIMaxInFlight   int
	HideForeignFiles bool

	AllowedFormats []string
	FormatsFile    string

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		StoragePath:          mustEnv("STORAGE_PATH", "./data/artifacts"),
		StorageCompress:      mustEnvBool("STORAGE_COMPRESS", false),
		StorageMetaCacheSize: mustEnvInt("STORAGE_META_CACHE_SIZE", 1024),
		WorkDir:              mustEnv("WORK_DIR", os.TempDir()),

		MaxUploadBytes:  mustEnvInt64("MAX_UPLOAD_BYTES", 50<<20),
		MaxOutputBytes:  mustEnvInt64("MAX_OUTPUT_BYTES", 200<<20),
		SessionTTL:      mustEnvSeconds("SESSION_TTL_SECONDS", 24*time.Hour),
		SessionMaxFiles: mustEnvInt("SESSION_MAX_FILES", 50),
		SessionMaxBytes: mustEnvInt64("SESSION_MAX_BYTES", 500<<20),

		OfficeEndpoint:    mustEnv("OFFICE_ENDPOINT", "http://localhost:2002"),
		OfficeMaxInFlight: mustEnvInt("OFFICE_MAX_IN_FLIGHT", 2),
		OfficeTimeout:     mustEnvSeconds("OFFICE_TIMEOUT_SECONDS", 300*time.Second),
		MarkupTimeout:     mustEnvSeconds("MARKUP_TIMEOUT_SECONDS", 120*time.Second),
		ImageTimeout:      mustEnvSeconds("IMAGE_TIMEOUT_SECONDS", 120*time.Second),
		TabularTimeout:    mustEnvSeconds("TABULAR_TIMEOUT_SECONDS", 60*time.Second),
		PandocPath:        mustEnv("PANDOC_PATH", "pandoc"),
		MarkupMaxPages:    mustEnvInt("MARKUP_MAX_PAGES", 500),
		ImageMaxPages:     mustEnvInt("IMAGE_MAX_PAGES", 50),
		ImageMaxPixels:    mustEnvInt64("IMAGE_MAX_PIXELS", 100_000_000),
		TabularMaxCells:   mustEnvInt("TABULAR_MAX_CELLS", 5_000_000),

		BackendRetryBackoff: time.Duration(mustEnvInt("BACKEND_RETRY_BACKOFF_MS", 250)) * time.Millisecond,

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:        mustEnv("NATS_URL", ""),
		NATSSubject:    mustEnv("NATS_SUBJECT", "conversions.jobs"),
		NATSQueueGroup: mustEnv("NATS_QUEUE_GROUP", "converters"),
		JobWorkers:     mustEnvInt("JOB_WORKERS", 3),
		JobQueueSize:   mustEnvInt("JOB_QUEUE_SIZE", 256),

		SweepInterval:  mustEnvSeconds("SWEEP_INTERVAL_SECONDS", time.Hour),
		SweepBatchSize: mustEnvInt("SWEEP_BATCH_SIZE", 100),
		JobRetention:   mustEnvSeconds("JOB_RETENTION_SECONDS", 24*time.Hour),

		AuthJWTSecret:   mustEnv("AUTH_JWT_SECRET", ""),
		AuthJWTAudience: mustEnv("AUTH_JWT_AUDIENCE", "file-converter"),
		AuthRequired:    mustEnvBool("AUTH_REQUIRED", false),

		RateLimitRPS:     mustEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   mustEnvInt("RATE_LIMIT_BURST", 20),
		UploadRateRPS:    mustEnvFloat("UPLOAD_RATE_LIMIT_RPS", 1),
		UploadRateBurst:  mustEnvInt("UPLOAD_RATE_LIMIT_BURST", 5),
		APIMaxInFlight:   mustEnvInt("API_MAX_IN_FLIGHT", 64),
		HideForeignFiles: mustEnvBool("HIDE_FOREIGN_ARTIFACTS", true),

		AllowedFormats: mustEnvList("ALLOWED_FORMATS"),
		FormatsFile:    mustEnv("FORMATS_FILE", ""),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// Validate rejects combinations that would start the service in an unsafe
// state.
func (c Config) Validate() error {
	if c.AuthRequired && strings.TrimSpace(c.AuthJWTSecret) == "" {
		return fmt.Errorf("AUTH_REQUIRED is set but AUTH_JWT_SECRET is empty")
	}
	return nil
}

// FormatPolicy narrows what the registry exposes.
type FormatPolicy struct {
	AllowedFormats   []string `yaml:"allowed_formats"`
	DisabledBackends []string `yaml:"disabled_backends"`
}

// FormatPolicy merges ALLOWED_FORMATS with the optional YAML file. When
// both list formats, only formats present in both stay allowed.
func (c Config) FormatPolicy() (FormatPolicy, error) {
	policy := FormatPolicy{AllowedFormats: c.AllowedFormats}
	if c.FormatsFile == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(c.FormatsFile)
	if err != nil {
		return FormatPolicy{}, fmt.Errorf("read formats file: %w", err)
	}
	var file FormatPolicy
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return FormatPolicy{}, fmt.Errorf("parse formats file %s: %w", c.FormatsFile, err)
	}
	policy.DisabledBackends = normalizeList(file.DisabledBackends)
	fileFormats := normalizeList(file.AllowedFormats)
	switch {
	case len(policy.AllowedFormats) == 0:
		policy.AllowedFormats = fileFormats
	case len(fileFormats) > 0:
		policy.AllowedFormats = intersect(policy.AllowedFormats, fileFormats)
		if len(policy.AllowedFormats) == 0 {
			return FormatPolicy{}, fmt.Errorf("ALLOWED_FORMATS and %s share no formats", c.FormatsFile)
		}
	}
	return policy, nil
}

func intersect(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := in[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), ".")
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvSeconds(key string, fallback time.Duration) time.Duration {
	n := mustEnvInt(key, 0)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return normalizeList(strings.Split(v, ","))
}
