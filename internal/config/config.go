package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/bobarin/framecast/internal/logx"
)

// Config is the render server configuration.
type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	PushProgress       bool   // Advertise websocket job events to clients

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase (optional result persistence)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Encoding
	WorkDir           string
	FFmpegPath        string
	FFprobePath       string
	MaxConcurrentJobs int
	ChecksumWorkers   int

	Log logx.Config
}

// ClientConfig is the framecast CLI configuration.
type ClientConfig struct {
	RenderServerURL string
	RenderAPIKey    string

	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	OpenAIKey string

	WorkDir         string
	FFmpegPath      string
	FFprobePath     string
	BatchSize       int
	ChecksumWorkers int
	JobWaitMinutes  int
	FontPath        string

	Log logx.Config
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		PushProgress:          getEnvBool("PUSH_PROGRESS", true),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "framecast-exports"),
		WorkDir:               getEnv("WORK_DIR", "/tmp/framecast"),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
		ChecksumWorkers:       getEnvInt("CHECKSUM_WORKERS", 4),
		Log:                   logConfig("api"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}

	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		RenderServerURL:       strings.TrimRight(getEnv("RENDER_SERVER_URL", ""), "/"),
		RenderAPIKey:          getEnv("RENDER_API_KEY", ""),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "framecast-exports"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		WorkDir:               getEnv("WORK_DIR", os.TempDir()+"/framecast"),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		BatchSize:             getEnvInt("UPLOAD_BATCH_SIZE", 96),
		ChecksumWorkers:       getEnvInt("CHECKSUM_WORKERS", 4),
		JobWaitMinutes:        getEnvInt("JOB_WAIT_MINUTES", 30),
		FontPath:              getEnv("SUBTITLE_FONT_PATH", ""),
		Log:                   logConfig("framecast"),
	}

	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("UPLOAD_BATCH_SIZE must be at least 1")
	}

	return cfg, nil
}

// PersistenceEnabled reports whether results can be saved to Supabase.
func (c *ClientConfig) PersistenceEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// PersistenceEnabled reports whether encoded results are mirrored to Supabase.
func (c *Config) PersistenceEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func logConfig(service string) logx.Config {
	return logx.Config{
		Service:        service,
		Level:          getEnv("LOG_LEVEL", "info"),
		Format:         getEnv("LOG_FORMAT", "console"),
		FilePath:       getEnv("LOG_FILE", ""),
		FileMaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE", 50),
		FileMaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 3),
		FileMaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE", 7),
		FileCompress:   getEnvBool("LOG_FILE_COMPRESS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
