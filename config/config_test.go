package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	envVars := []string{
		"PORT", "VERSION", "YTDLP_PATH", "FFMPEG_PATH", "FFPROBE_PATH",
		"CACHE_DIR", "CACHE_TTL", "SWEEP_INTERVAL", "PREPARE_TIMEOUT", "ALLOWED_HOSTS",
		"ANALYSIS_SECONDS", "ANALYSIS_SAMPLE_RATE", "METADATA_CACHE_TTL",
		"REDIS_ADDR", "MINIO_ENDPOINT", "LOG_LEVEL",
	}
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want 3000", cfg.Port)
	}
	if cfg.FFmpegPath != "ffmpeg" || cfg.FFprobePath != "ffprobe" {
		t.Errorf("tool paths = %q/%q, want ffmpeg/ffprobe", cfg.FFmpegPath, cfg.FFprobePath)
	}
	if cfg.YtDlpPath != "yt-dlp" {
		t.Errorf("YtDlpPath = %q, want yt-dlp", cfg.YtDlpPath)
	}
	if cfg.CacheDir != filepath.Join(os.TempDir(), "keyshift-cache") {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Errorf("SweepInterval = %v, want 10m", cfg.SweepInterval)
	}
	if cfg.AnalysisSeconds != 60 || cfg.AnalysisSampleRate != 11025 {
		t.Errorf("analysis = %ds @ %dHz, want 60s @ 11025Hz", cfg.AnalysisSeconds, cfg.AnalysisSampleRate)
	}
	if !reflect.DeepEqual(cfg.AllowedHosts, DefaultAllowedHosts) {
		t.Errorf("AllowedHosts = %v", cfg.AllowedHosts)
	}
	if cfg.RedisAddr != "" || cfg.MinioEndpoint != "" {
		t.Errorf("optional backends should default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("FFMPEG_PATH", "/opt/ff/bin/ffmpeg")
	t.Setenv("FFPROBE_PATH", "")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("ALLOWED_HOSTS", " YouTube.com, youtu.be ,")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.FFprobePath != "/opt/ff/bin/ffprobe" {
		t.Errorf("FFprobePath = %q, want derived /opt/ff/bin/ffprobe", cfg.FFprobePath)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Errorf("CacheTTL = %v, want 30m", cfg.CacheTTL)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Errorf("invalid SWEEP_INTERVAL should fall back, got %v", cfg.SweepInterval)
	}
	if want := []string{"youtube.com", "youtu.be"}; !reflect.DeepEqual(cfg.AllowedHosts, want) {
		t.Errorf("AllowedHosts = %v, want %v", cfg.AllowedHosts, want)
	}
	if !cfg.MinioUseSSL {
		t.Error("MinioUseSSL = false, want true")
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
}
