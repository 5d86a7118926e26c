package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Service auth
	APIKey string

	// External generation service
	GenAIAPIKey    string
	GenAIBaseURL   string
	TextModel      string
	VisionModel    string
	CallTimeout    time.Duration
	BaseRetryDelay time.Duration
	MaxRetries     int

	// Asset store connection
	AssetStoreURL    string
	AssetStoreAPIKey string

	// Extraction
	PagesPerChunk int

	// Image localization
	PageBatchSize int
	JPEGQuality   int
	AssetFolder   string

	// Generation
	GenBatchSize        int
	OverGenFactor       float64
	SimilarityThreshold float64
	MaxExtraBatches     int

	// Worker pool
	WorkerCount          int
	MaxQueueSize         int
	MaxConcurrentExtract int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("EXAMFORGE_API_KEY"),

		GenAIAPIKey:    os.Getenv("GENAI_API_KEY"),
		GenAIBaseURL:   envOr("GENAI_BASE_URL", "https://openrouter.ai/api/v1"),
		TextModel:      envOr("GENAI_TEXT_MODEL", "google/gemini-2.0-flash-001"),
		VisionModel:    envOr("GENAI_VISION_MODEL", "google/gemini-2.5-pro"),
		CallTimeout:    envDuration("GENAI_CALL_TIMEOUT", 2*time.Minute),
		BaseRetryDelay: envDuration("GENAI_BASE_RETRY_DELAY", 1*time.Second),
		MaxRetries:     envInt("GENAI_MAX_RETRIES", 3),

		AssetStoreURL:    envOr("ASSET_STORE_URL", "http://localhost:8080"),
		AssetStoreAPIKey: os.Getenv("ASSET_STORE_API_KEY"),

		PagesPerChunk: envInt("PAGES_PER_CHUNK", 5),

		PageBatchSize: envInt("PAGE_BATCH_SIZE", 5),
		JPEGQuality:   envInt("JPEG_QUALITY", 85),
		AssetFolder:   envOr("ASSET_FOLDER", "question-images"),

		GenBatchSize:        envInt("GEN_BATCH_SIZE", 10),
		OverGenFactor:       envFloat("OVERGEN_FACTOR", 1.2),
		SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.8),
		MaxExtraBatches:     envInt("MAX_EXTRA_BATCHES", 2),

		WorkerCount:          envInt("WORKER_COUNT", 4),
		MaxQueueSize:         envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentExtract: envInt("MAX_CONCURRENT_EXTRACT", 3),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),
	}

	if cfg.PagesPerChunk <= 0 {
		cfg.PagesPerChunk = 5
	}
	if cfg.PageBatchSize <= 0 {
		cfg.PageBatchSize = 5
	}
	if cfg.GenBatchSize <= 0 {
		cfg.GenBatchSize = 10
	}
	if cfg.OverGenFactor < 1 {
		cfg.OverGenFactor = 1.2
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.8
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = 3
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// Validate fails fast on missing credentials, before any network call.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("EXAMFORGE_API_KEY is required")
	}
	if c.GenAIAPIKey == "" {
		return fmt.Errorf("GENAI_API_KEY is required")
	}
	if c.AssetStoreAPIKey == "" {
		return fmt.Errorf("ASSET_STORE_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
