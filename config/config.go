package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the worker configuration.
// Values come from the environment (optionally via a .env file) with defaults
// that work against a local docker-compose stack.
type Config struct {
	FFmpegPath  string
	FFprobePath string

	// Pipeline limits
	MaxTrackDuration time.Duration // tracks longer than this are rejected
	PeakCount        int           // number of waveform peaks per track
	WaveformByteMax  int           // serialized waveform artifact budget
	ProbeTimeout     time.Duration
	RenderTimeout    time.Duration
	JobTimeout       time.Duration // aggregate deadline for one event
	MaxConcurrency   int           // worker-pool size

	// Scratch disk
	ScratchDir      string
	ScratchCeiling  int64         // max aggregate scratch bytes before admission denies
	ScratchMargin   int64         // free volume space that must remain available
	OrphanMaxAge    time.Duration // scratch dirs older than this are reclaimed
	JanitorInterval time.Duration

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置（事件流 + 死信流）
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisDB         int
	EventStream     string
	DeadLetterTopic string
	ConsumerGroup   string

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Ops HTTP server
	OpsAddr string

	// 链路追踪
	TraceEnabled bool

	// 日志配置
	LogLevel  string
	LogPath   string
	LogMaxMB  int
	LogMaxAge int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration ("30s", "2m") or
// returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cfg := &Config{
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		MaxTrackDuration: getEnvDuration("MAX_TRACK_DURATION", 120*time.Minute),
		PeakCount:        getEnvInt("WAVEFORM_PEAK_COUNT", 800),
		WaveformByteMax:  getEnvInt("WAVEFORM_BYTE_MAX", 100*1024),
		ProbeTimeout:     getEnvDuration("PROBE_TIMEOUT", 30*time.Second),
		RenderTimeout:    getEnvDuration("RENDER_TIMEOUT", 2*time.Minute),
		JobTimeout:       getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 4),

		ScratchDir:      getEnv("SCRATCH_DIR", "scratch"),
		ScratchCeiling:  getEnvInt64("SCRATCH_CEILING_BYTES", 2<<30),
		ScratchMargin:   getEnvInt64("SCRATCH_MARGIN_BYTES", 512<<20),
		OrphanMaxAge:    getEnvDuration("SCRATCH_ORPHAN_MAX_AGE", time.Hour),
		JanitorInterval: getEnvDuration("SCRATCH_JANITOR_INTERVAL", 10*time.Minute),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:     getEnv("DB_NAME", "soniq"),

		RedisHost:       getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		EventStream:     getEnv("EVENT_STREAM", "soniq:events:processing"),
		DeadLetterTopic: getEnv("DEADLETTER_STREAM", "soniq:events:deadletter"),
		ConsumerGroup:   getEnv("CONSUMER_GROUP", "soniq-workers"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "soniq"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		OpsAddr: getEnv("OPS_ADDR", ":9090"),

		TraceEnabled: getEnvBool("TRACE_ENABLED", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPath:   getEnv("LOG_PATH", ""),
		LogMaxMB:  getEnvInt("LOG_MAX_MB", 100),
		LogMaxAge: getEnvInt("LOG_MAX_AGE_DAYS", 7),
	}

	// 峰值数量是后续阶段的除数，下限必须是1
	if cfg.PeakCount < 1 {
		log.Println("WAVEFORM_PEAK_COUNT must be at least 1, using 1.")
		cfg.PeakCount = 1
	}
	return cfg
}
