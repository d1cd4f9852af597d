package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/knosi/internal/core"
)

// MemoryDatabaseURL selects the in-memory store instead of Postgres.
const MemoryDatabaseURL = "memory"

const InsecureDefaultKey = "change-me-in-production"

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIAPIKey    string
	EmbedModel  string
	EmbedDim    int
	GenModel    string
	VisionModel string

	Port         string
	APISecretKey string
	APIKeyHash   string
	JWTSecret    string
	CorsOrigins  []string

	MaxFileSizeMB int
	ChunkSize     int
	ChunkOverlap  int

	PDFBatchSize        int
	PDFBatchesPerMinute int
	PDFMaxBatches       int
	PDFLargeSizeMB      int
	PDFLargePages       int
	ImageMaxBytes       int
	ExtractTimeout      time.Duration

	LLMConcurrency    int
	IngestWorkers     int
	ProgressGrace     time.Duration
	ProgressKeepalive time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),

		AIAPIKey:    getEnv("GEMINI_API_KEY", ""),
		EmbedModel:  getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:    getEnvInt("EMBED_DIM", 768),
		GenModel:    getEnv("GEN_MODEL", "gemini-1.5-flash"),
		VisionModel: getEnv("VISION_MODEL", "gemini-1.5-flash"),

		Port:         getEnv("PORT", "48550"),
		APISecretKey: getEnv("API_SECRET_KEY", InsecureDefaultKey),
		APIKeyHash:   getEnv("API_KEY_HASH", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		CorsOrigins:  getEnvList("CORS_ORIGINS", []string{"*"}),

		MaxFileSizeMB: getEnvInt("MAX_FILE_SIZE_MB", 100),
		ChunkSize:     getEnvInt("CHUNK_SIZE", 4000),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),

		PDFBatchSize:        getEnvInt("PDF_BATCH_SIZE", 20),
		PDFBatchesPerMinute: getEnvInt("PDF_BATCHES_PER_MINUTE", 60),
		PDFMaxBatches:       getEnvInt("PDF_MAX_BATCHES", 0),
		PDFLargeSizeMB:      getEnvInt("PDF_LARGE_SIZE_MB", 5),
		PDFLargePages:       getEnvInt("PDF_LARGE_PAGES", 50),
		ImageMaxBytes:       getEnvInt("IMAGE_MAX_BYTES", 5*1024*1024),
		ExtractTimeout:      getEnvDuration("EXTRACT_TIMEOUT", 5*time.Minute),

		LLMConcurrency:    getEnvInt("LLM_CONCURRENCY", 4),
		IngestWorkers:     getEnvInt("INGEST_WORKERS", 2),
		ProgressGrace:     getEnvDuration("PROGRESS_GRACE", 5*time.Second),
		ProgressKeepalive: getEnvDuration("PROGRESS_KEEPALIVE", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.PlainAPIKey()
	}

	return cfg
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return core.ConfigurationError("DATABASE_URL not set")
	}
	if c.ChunkSize <= 0 {
		return core.ConfigurationError("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return core.ConfigurationError("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d with CHUNK_SIZE %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.EmbedDim <= 0 {
		return core.ConfigurationError("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	if c.PDFBatchSize <= 0 {
		return core.ConfigurationError("PDF_BATCH_SIZE must be positive, got %d", c.PDFBatchSize)
	}
	if c.MaxFileSizeMB <= 0 {
		return core.ConfigurationError("MAX_FILE_SIZE_MB must be positive, got %d", c.MaxFileSizeMB)
	}
	return nil
}

// AuthEnabled is false when no real API key has been configured.
func (c *Config) AuthEnabled() bool {
	return c.APIKeyHash != "" || (c.APISecretKey != "" && c.APISecretKey != InsecureDefaultKey)
}

// PlainAPIKey is the API key accepted verbatim, empty while the insecure default is in place.
func (c *Config) PlainAPIKey() string {
	if c.APISecretKey == InsecureDefaultKey {
		return ""
	}
	return c.APISecretKey
}

// ObjectStorageEnabled reports whether originals are kept in S3.
func (c *Config) ObjectStorageEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

func (c *Config) String() string {
	return fmt.Sprintf("port=%s db=%s embed=%s/%d gen=%s vision=%s auth=%t s3=%t",
		c.Port, redactURL(c.DatabaseURL), c.EmbedModel, c.EmbedDim, c.GenModel, c.VisionModel, c.AuthEnabled(), c.ObjectStorageEnabled())
}

func redactURL(u string) string {
	if at := strings.LastIndex(u, "@"); at >= 0 {
		if scheme := strings.Index(u, "://"); scheme >= 0 && scheme < at {
			return u[:scheme+3] + "***" + u[at:]
		}
	}
	return u
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("env value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
