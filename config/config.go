package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAllowedHosts are the media hosts a prepare request may point at.
var DefaultAllowedHosts = []string{
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"music.youtube.com",
	"youtu.be",
}

// Config stores the application configuration.
type Config struct {
	Port    string
	Version string

	// External tools
	YtDlpPath   string
	FFmpegPath  string
	FFprobePath string

	// Track cache
	CacheDir       string
	CacheTTL       time.Duration // retention window of a prepared track
	SweepInterval  time.Duration
	PrepareTimeout time.Duration
	AllowedHosts   []string

	// Key analysis
	AnalysisSeconds    int
	AnalysisSampleRate int

	// Metadata hint cache. An empty RedisAddr selects the in-process LRU.
	MetadataCacheTTL  time.Duration
	MetadataCacheSize int
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	// Optional MinIO mirror. An empty MinioEndpoint disables it.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Logging
	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
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

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration syntax ("90m", "1h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ffprobeFor derives the ffprobe binary that sits next to ffmpeg.
func ffprobeFor(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")

	return &Config{
		Port:    getEnv("PORT", "3000"),
		Version: getEnv("VERSION", "1.0.0"),

		YtDlpPath:   getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:  ffmpegPath,
		FFprobePath: getEnv("FFPROBE_PATH", ffprobeFor(ffmpegPath)),

		CacheDir:       getEnv("CACHE_DIR", filepath.Join(os.TempDir(), "keyshift-cache")),
		CacheTTL:       getEnvDuration("CACHE_TTL", time.Hour),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		PrepareTimeout: getEnvDuration("PREPARE_TIMEOUT", 10*time.Minute),
		AllowedHosts:   getEnvList("ALLOWED_HOSTS", DefaultAllowedHosts),

		AnalysisSeconds:    getEnvInt("ANALYSIS_SECONDS", 60),
		AnalysisSampleRate: getEnvInt("ANALYSIS_SAMPLE_RATE", 11025),

		MetadataCacheTTL:  getEnvDuration("METADATA_CACHE_TTL", 6*time.Hour),
		MetadataCacheSize: getEnvInt("METADATA_CACHE_SIZE", 512),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "keyshift"),
		MinioRegion:    getEnv("MINIO_REGION", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}
